//go:build !windows

// server_unix.go - Prozesssteuerung fuer Unix-Systeme
package llm

import (
	"os/exec"
	"syscall"
)

// Engines laufen in einer eigenen Prozessgruppe, damit Terminate und
// Kill auch ihre Kindprozesse treffen.
var wrappedServerSysProcAttr = &syscall.SysProcAttr{
	Setpgid: true,
}

func terminateProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
