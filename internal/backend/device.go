package backend

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"imagegateway/internal/domain"
)

// DeviceKind names a compute device.
type DeviceKind string

const (
	DeviceCUDA DeviceKind = "cuda"
	DeviceMPS  DeviceKind = "mps"
	DeviceCPU  DeviceKind = "cpu"
	// DeviceRemote is used when inference runs behind a managed endpoint and no
	// local device is involved.
	DeviceRemote DeviceKind = "remote"
)

// Device is the execution strategy chosen once at initialization.
type Device struct {
	Kind      DeviceKind `json:"device"`
	Precision string     `json:"precision"`
	Autocast  bool       `json:"autocast"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.Precision)
}

func deviceFor(kind DeviceKind) Device {
	switch kind {
	case DeviceCUDA:
		return Device{Kind: DeviceCUDA, Precision: "float16", Autocast: true}
	case DeviceRemote:
		return Device{Kind: DeviceRemote, Precision: "remote"}
	default:
		return Device{Kind: kind, Precision: "float32"}
	}
}

// Prober reports which accelerators are present on the host.
type Prober interface {
	CUDAAvailable(ctx context.Context) bool
	MPSAvailable(ctx context.Context) bool
}

// SystemProber probes the host with nvidia-smi and the platform tuple.
type SystemProber struct {
	NvidiaSMIPath string
	Timeout       time.Duration
}

func (p SystemProber) CUDAAvailable(ctx context.Context) bool {
	path := p.NvidiaSMIPath
	if path == "" {
		path = "nvidia-smi"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--query-gpu=uuid", "--format=csv,noheader").Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

func (p SystemProber) MPSAvailable(context.Context) bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// SelectDevice resolves a device hint (auto, cuda, mps, cpu, remote) to a
// concrete device. An explicit accelerator hint that the host cannot satisfy
// is a load error rather than a silent fallback.
func SelectDevice(ctx context.Context, hint string, prober Prober) (Device, error) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	switch DeviceKind(hint) {
	case DeviceCPU:
		return deviceFor(DeviceCPU), nil
	case DeviceRemote:
		return deviceFor(DeviceRemote), nil
	case DeviceCUDA:
		if prober != nil && prober.CUDAAvailable(ctx) {
			return deviceFor(DeviceCUDA), nil
		}
		return Device{}, fmt.Errorf("%w: cuda requested but no gpu detected", domain.ErrModelLoad)
	case DeviceMPS:
		if prober != nil && prober.MPSAvailable(ctx) {
			return deviceFor(DeviceMPS), nil
		}
		return Device{}, fmt.Errorf("%w: mps requested but not available", domain.ErrModelLoad)
	}
	if hint != "" && hint != "auto" {
		return Device{}, fmt.Errorf("%w: unknown device hint %q", domain.ErrModelLoad, hint)
	}
	if prober != nil {
		if prober.CUDAAvailable(ctx) {
			return deviceFor(DeviceCUDA), nil
		}
		if prober.MPSAvailable(ctx) {
			return deviceFor(DeviceMPS), nil
		}
	}
	return deviceFor(DeviceCPU), nil
}
