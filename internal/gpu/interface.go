package gpu

import (
	"context"
	"time"
)

// DeviceID is a stable identifier for a physical GPU, valid for the
// process lifetime. The NVML source uses the device UUID.
type DeviceID string

// Snapshot holds one device's readings at one poll instant. It is
// constructed fresh each poll and never mutated afterwards.
type Snapshot struct {
	DeviceID       DeviceID
	Timestamp      time.Time
	UtilizationPct float64
	MemoryUsedMB   float64
	MemoryTotalMB  float64
	TemperatureC   float64
	PowerDrawW     float64
	FanPct         float64
	ClockMHz       float64
}

// ProcessType distinguishes graphics from compute workloads
type ProcessType string

const (
	ProcessTypeGraphics ProcessType = "graphics"
	ProcessTypeCompute  ProcessType = "compute"
	ProcessTypeUnknown  ProcessType = "unknown"
)

// ProcessInfo describes one process using a device. It is carried
// through to consumers unchanged; the monitoring core never acts on it.
type ProcessInfo struct {
	PID      int
	Name     string
	Type     ProcessType
	MemoryMB float64
}

// Source provides raw device telemetry and process listings.
// All failures are per-call; a failed read never invalidates the source.
type Source interface {
	// Devices returns the identifiers of all detected GPUs.
	// Zero devices is a valid result, not an error.
	Devices() ([]DeviceID, error)

	// DeviceName returns the product name for a known device,
	// "Unknown" otherwise.
	DeviceName(id DeviceID) string

	// ReadSnapshot reads the current metrics for one device.
	ReadSnapshot(ctx context.Context, id DeviceID) (Snapshot, error)

	// ListProcesses returns the processes currently using the device.
	ListProcesses(ctx context.Context, id DeviceID) ([]ProcessInfo, error)

	// KillProcess terminates a process by PID. Pass-through action,
	// never invoked by the monitoring core itself.
	KillProcess(pid int) error

	// Shutdown releases the underlying driver resources.
	Shutdown() error
}
