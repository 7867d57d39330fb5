// discover_windows.go - Hardware-Probe fuer Windows
//
// Dieses Modul enthaelt:
// - CPU-Name aus der Registry, OS-Version ueber RtlGetVersion
// - GPU- und Speicher-Abfrage ueber WMI (powershell CIM)
// - NPU-Erkennung ueber den "NPU Compute Accelerator Device" Treiber
package discover

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
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
	v := windows.RtlGetVersion()
	return fmt.Sprintf("Windows %d.%d build %d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}

func cpuName() string {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`HARDWARE\DESCRIPTION\System\CentralProcessor\0`, registry.QUERY_VALUE)
	if err != nil {
		slog.Debug("cpu registry key not readable", "error", err)
		return "unknown"
	}
	defer k.Close()

	name, _, err := k.GetStringValue("ProcessorNameString")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(name)
}

// cimQuery fragt eine einzelne WMI-Eigenschaft ueber powershell ab und
// gibt die Ausgabezeilen zurueck.
func cimQuery(class, property string) []string {
	cmd := exec.Command("powershell", "-NoProfile", "-Command",
		fmt.Sprintf("(Get-CimInstance %s).%s", class, property))
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("cim query failed", "class", class, "error", err)
		return nil
	}

	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func totalMemory() uint64 {
	for _, line := range cimQuery("Win32_ComputerSystem", "TotalPhysicalMemory") {
		if mem, err := strconv.ParseUint(line, 10, 64); err == nil {
			return mem
		}
	}
	return 0
}

func gpuNames() []string {
	return cimQuery("Win32_VideoController", "Name")
}

func npuProbe() NPU {
	cmd := exec.Command("powershell", "-NoProfile", "-Command",
		`(Get-CimInstance Win32_PnPSignedDriver | Where-Object {$_.DeviceName -eq 'NPU Compute Accelerator Device'}).DriverVersion`)
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("npu driver query failed", "error", err)
		return NPU{}
	}

	version := strings.TrimSpace(string(out))
	if version == "" {
		return NPU{}
	}
	return NPU{Name: "AMD NPU", Driver: version, Available: true}
}
