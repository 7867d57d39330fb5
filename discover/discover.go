// discover.go - Hardware-Erkennung fuer Backend-Auswahl und /system-info
//
// Dieses Modul enthaelt:
// - Einmalige System-Probe (CPU, GPUs, NPU, Speicher)
// - Klassifizierung von AMD/NVIDIA GPUs ueber Namens-Keywords
// - ROCm-Architektur-Zuordnung und Default-Backend fuer llama.cpp
package discover

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/envconfig"
)

type CPU struct {
	Name    string
	Cores   int
	Threads int
}

type GPU struct {
	Name     string
	Vendor   string
	Discrete bool
	RocmArch string
}

type NPU struct {
	Name      string
	Driver    string
	Available bool
}

// SystemInfo ist das Ergebnis der einmaligen Hardware-Probe.
type SystemInfo struct {
	OSVersion   string
	CPU         CPU
	MemoryBytes uint64
	GPUs        []GPU
	NPU         NPU
}

// AMDiGPU gibt die integrierte AMD-GPU zurueck, falls vorhanden.
func (si SystemInfo) AMDiGPU() *GPU {
	for i := range si.GPUs {
		if si.GPUs[i].Vendor == "amd" && !si.GPUs[i].Discrete {
			return &si.GPUs[i]
		}
	}
	return nil
}

// AMDdGPUs gibt alle diskreten AMD-GPUs zurueck.
func (si SystemInfo) AMDdGPUs() []GPU {
	var gpus []GPU
	for _, g := range si.GPUs {
		if g.Vendor == "amd" && g.Discrete {
			gpus = append(gpus, g)
		}
	}
	return gpus
}

// NvidiaGPUs gibt alle NVIDIA-GPUs zurueck.
func (si SystemInfo) NvidiaGPUs() []GPU {
	var gpus []GPU
	for _, g := range si.GPUs {
		if g.Vendor == "nvidia" {
			gpus = append(gpus, g)
		}
	}
	return gpus
}

// RocmArch gibt die erste erkannte ROCm-Architektur zurueck, oder "".
func (si SystemInfo) RocmArch() string {
	for _, g := range si.GPUs {
		if g.RocmArch != "" {
			return g.RocmArch
		}
	}
	return ""
}

var (
	probeOnce sync.Once
	probed    SystemInfo
)

// Probe erkennt die Hardware genau einmal und cached das Ergebnis fuer
// die Lebenszeit des Prozesses.
func Probe() SystemInfo {
	probeOnce.Do(func() {
		start := time.Now()
		probed = probe()
		slog.Debug("hardware probe complete",
			"duration", time.Since(start),
			"cpu", probed.CPU.Name,
			"gpus", len(probed.GPUs),
			"npu", probed.NPU.Available)
	})
	return probed
}

// Namens-Keywords statt PCI-ID-Tabellen: manche Treiber melden generische
// Geraete-Strings, auf die sich keine ID-Tabelle verlassen kann.
var amdDiscreteKeywords = []string{
	"rx ", "xt", "pro w", "pro v", "radeon pro", "firepro", "fury",
}

var nvidiaKeywords = []string{
	"geforce", "rtx", "gtx", "quadro", "tesla", "titan",
	"a100", "a40", "a30", "a10", "a6000", "a5000", "a4000", "a2000",
}

func isAMDDiscrete(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range amdDiscreteKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isNvidia(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "nvidia") {
		return true
	}
	for _, kw := range nvidiaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isAMD(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "amd") ||
		strings.Contains(lower, "advanced micro devices") ||
		strings.Contains(lower, "[amd/ati]") ||
		strings.Contains(lower, "radeon")
}

// RocmArchFor ordnet einem GPU-Namen die ROCm-Architektur-Familie zu.
// Nur Radeon-Geraete kommen in Frage, alles andere gibt "" zurueck.
func RocmArchFor(name string) string {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "radeon") {
		return ""
	}

	// STX Halo iGPUs: Radeon 8050S / 8060S Graphics
	if strings.Contains(lower, "8050s") || strings.Contains(lower, "8060s") {
		return "gfx1151"
	}

	// RDNA4: AI PRO R9700, RX 9070 XT/GRE, RX 9070, RX 9060 XT
	if strings.Contains(lower, "r9700") || strings.Contains(lower, "9060") || strings.Contains(lower, "9070") {
		return "gfx120X"
	}

	// RDNA3: PRO V710, PRO W7900/W7800/W7700, RX 7900 XTX/XT/GRE, RX 7800/7700 XT
	if strings.Contains(lower, "7700") || strings.Contains(lower, "7800") ||
		strings.Contains(lower, "7900") || strings.Contains(lower, "v710") {
		return "gfx110X"
	}

	return ""
}

// classifyGPU baut aus einem Geraete-Namen einen GPU-Eintrag.
func classifyGPU(name string) GPU {
	g := GPU{Name: name}
	switch {
	case isNvidia(name):
		g.Vendor = "nvidia"
		g.Discrete = true
	case isAMD(name):
		g.Vendor = "amd"
		g.Discrete = isAMDDiscrete(name)
		g.RocmArch = RocmArchFor(name)
	default:
		g.Vendor = "other"
	}
	return g
}

// DefaultLlamaBackend waehlt das llama.cpp-Backend: metal auf Apple
// Silicon, sonst vulkan. LEMONADE_LLAMACPP ueberschreibt die Wahl.
func DefaultLlamaBackend() string {
	if b := envconfig.LlamaCppBackend(); b != "" {
		return b
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "metal"
	}
	return "vulkan"
}

// ValidBackends listet die akzeptierten Werte fuer llamacpp_backend.
func ValidBackends() []string {
	return []string{"cpu", "vulkan", "rocm", "metal"}
}

// BackendSupported prueft ob ein Backend auf dieser Hardware laufen kann.
func BackendSupported(backend string) bool {
	switch backend {
	case "cpu", "vulkan":
		return true
	case "metal":
		return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
	case "rocm":
		return Probe().RocmArch() != ""
	}
	return false
}

// RecipeSupported entscheidet ob ein Recipe auf dieser Plattform zur
// Verfuegung steht. Die Ryzen-AI-Laufzeiten existieren nur auf Windows,
// flm braucht zusaetzlich eine erkannte NPU.
func RecipeSupported(recipe string) bool {
	switch recipe {
	case "ryzenai-hybrid", "ryzenai-npu", "ryzenai-cpu":
		return runtime.GOOS == "windows"
	case "flm":
		return runtime.GOOS == "windows" && Probe().NPU.Available
	}
	if runtime.GOOS == "darwin" {
		return recipe == "llamacpp" || recipe == "whispercpp"
	}
	return true
}
