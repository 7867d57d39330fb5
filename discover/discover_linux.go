// discover_linux.go - Hardware-Probe fuer Linux
//
// Dieses Modul enthaelt:
// - CPU-Name aus /proc/cpuinfo, Speicher ueber sysinfo(2)
// - GPU-Enumeration ueber lspci
// - NPU-Erkennung ueber den amdxdna-Treiber in sysfs
package discover

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

func probe() SystemInfo {
	si := SystemInfo{
		OSVersion: osVersion(),
		CPU: CPU{
			Name:    cpuName(),
			Cores:   runtime.NumCPU(),
			Threads: runtime.NumCPU(),
		},
		MemoryBytes: totalMemory(),
		NPU:         npuProbe(),
	}

	for _, name := range gpuNames() {
		si.GPUs = append(si.GPUs, classifyGPU(name))
	}
	return si
}

func osVersion() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		slog.Debug("uname failed", "error", err)
		return "Linux"
	}
	return fmt.Sprintf("%s %s %s",
		unix.ByteSliceToString(uts.Sysname[:]),
		unix.ByteSliceToString(uts.Release[:]),
		unix.ByteSliceToString(uts.Machine[:]))
}

func cpuName() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "model name"); ok {
			if _, value, ok := strings.Cut(name, ":"); ok {
				return strings.TrimSpace(value)
			}
		}
	}
	return "unknown"
}

func totalMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		slog.Debug("sysinfo failed", "error", err)
		return 0
	}
	return info.Totalram * uint64(info.Unit)
}

// gpuNames liest Display-Controller aus lspci. Ohne lspci bleibt die
// Liste leer und der Server laeuft mit CPU-Annahmen weiter.
func gpuNames() []string {
	out, err := exec.Command("lspci").Output()
	if err != nil {
		slog.Debug("lspci not available", "error", err)
		return nil
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga") && !strings.Contains(lower, "3d") && !strings.Contains(lower, "display") {
			continue
		}
		if _, name, ok := strings.Cut(line, ": "); ok {
			names = append(names, strings.TrimSpace(name))
		}
	}
	return names
}

func npuProbe() NPU {
	// Der XDNA-Treiber exponiert Ryzen-AI-NPUs als accel-Geraete.
	if _, err := os.Stat("/sys/bus/pci/drivers/amdxdna"); err == nil {
		return NPU{Name: "AMD NPU", Driver: "amdxdna", Available: true}
	}
	return NPU{}
}
