// discover_darwin.go - Hardware-Probe fuer macOS
//
// Dieses Modul enthaelt:
// - CPU-Name und Speicher ueber sysctl(2)
// - Apple-Silicon-GPU als einziges Geraet
package discover

import (
	"log/slog"
	"runtime"

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
	}

	if runtime.GOARCH == "arm64" {
		si.GPUs = append(si.GPUs, GPU{Name: "Apple Silicon GPU", Vendor: "apple"})
	}
	return si
}

func osVersion() string {
	version, err := unix.Sysctl("kern.osproductversion")
	if err != nil {
		return "macOS"
	}
	return "macOS " + version
}

func cpuName() string {
	name, err := unix.Sysctl("machdep.cpu.brand_string")
	if err != nil {
		slog.Debug("sysctl cpu brand failed", "error", err)
		return "unknown"
	}
	return name
}

func totalMemory() uint64 {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		slog.Debug("sysctl memsize failed", "error", err)
		return 0
	}
	return mem
}
