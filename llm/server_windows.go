// server_windows.go - Prozesssteuerung fuer Windows
package llm

import (
	"os/exec"
	"syscall"
)

// CREATE_DEFAULT_ERROR_MODE unterdrueckt Fehlerdialoge der Engine,
// CREATE_NEW_PROCESS_GROUP isoliert sie von Ctrl-C im Terminal.
const createDefaultErrorMode = 0x04000000

var wrappedServerSysProcAttr = &syscall.SysProcAttr{
	CreationFlags: createDefaultErrorMode | syscall.CREATE_NEW_PROCESS_GROUP,
}

// Windows kennt kein SIGTERM, beide Stufen beenden hart.
func terminateProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}
