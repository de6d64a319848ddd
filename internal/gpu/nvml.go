package gpu

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/nvidiamon/internal/errors"
	"codeberg.org/mutker/nvidiamon/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	bytesToMiB        = 1024 * 1024
	milliWattsToWatts = 1000
)

type nvmlSource struct {
	devices map[DeviceID]nvml.Device
	order   []DeviceID
	names   map[DeviceID]string
}

// New initializes NVML and discovers all attached devices.
// A host without GPUs yields a source with zero devices, not an error.
func New() (Source, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}

	s := &nvmlSource{
		devices: make(map[DeviceID]nvml.Device, count),
		names:   make(map[DeviceID]string, count),
	}

	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if !IsNVMLSuccess(ret) {
			logger.Warn().Msgf("Failed to get device at index %d: %v", i, nvml.ErrorString(ret))
			continue
		}

		uuid, ret := device.GetUUID()
		if !IsNVMLSuccess(ret) {
			logger.Warn().Msgf("Failed to get UUID of device %d: %v", i, nvml.ErrorString(ret))
			continue
		}

		id := DeviceID(uuid)
		s.devices[id] = device
		s.order = append(s.order, id)

		if name, ret := device.GetName(); IsNVMLSuccess(ret) {
			s.names[id] = name
			logger.Info().Msgf("Detected GPU %d: %s", i, name)
		} else {
			s.names[id] = "Unknown"
		}
	}

	return s, nil
}

func (s *nvmlSource) Shutdown() error {
	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	return nil
}

func (s *nvmlSource) Devices() ([]DeviceID, error) {
	ids := make([]DeviceID, len(s.order))
	copy(ids, s.order)

	return ids, nil
}

// DeviceName returns the product name for a known device
func (s *nvmlSource) DeviceName(id DeviceID) string {
	if name, ok := s.names[id]; ok {
		return name
	}

	return "Unknown"
}

// ReadSnapshot reads all metrics for one device. Individual metric
// failures degrade to zero values; only a lost or unknown device is an
// error so a flaky sensor cannot take monitoring down.
func (s *nvmlSource) ReadSnapshot(ctx context.Context, id DeviceID) (Snapshot, error) {
	errFactory := errors.New()

	device, ok := s.devices[id]
	if !ok {
		return Snapshot{}, errFactory.WithData(ErrDeviceNotFound, string(id))
	}

	if err := ctx.Err(); err != nil {
		return Snapshot{}, errFactory.Wrap(ErrSnapshotFailed, err)
	}

	snapshot := Snapshot{
		DeviceID:  id,
		Timestamp: time.Now(),
	}

	if mem, ret := device.GetMemoryInfo(); IsNVMLSuccess(ret) {
		snapshot.MemoryUsedMB = float64(mem.Used) / bytesToMiB
		snapshot.MemoryTotalMB = float64(mem.Total) / bytesToMiB
	} else if err := s.checkLost(id, ret); err != nil {
		return Snapshot{}, err
	}

	if util, ret := device.GetUtilizationRates(); IsNVMLSuccess(ret) {
		snapshot.UtilizationPct = float64(util.Gpu)
	} else if err := s.checkLost(id, ret); err != nil {
		return Snapshot{}, err
	}

	if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); IsNVMLSuccess(ret) {
		snapshot.TemperatureC = float64(temp)
	} else if err := s.checkLost(id, ret); err != nil {
		return Snapshot{}, err
	}

	if power, ret := device.GetPowerUsage(); IsNVMLSuccess(ret) {
		snapshot.PowerDrawW = float64(power) / milliWattsToWatts
	} else if err := s.checkLost(id, ret); err != nil {
		return Snapshot{}, err
	}

	if fan, ret := device.GetFanSpeed(); IsNVMLSuccess(ret) {
		snapshot.FanPct = float64(fan)
	} else if err := s.checkLost(id, ret); err != nil {
		return Snapshot{}, err
	}

	if clock, ret := device.GetClockInfo(nvml.CLOCK_GRAPHICS); IsNVMLSuccess(ret) {
		snapshot.ClockMHz = float64(clock)
	} else if err := s.checkLost(id, ret); err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}

// checkLost distinguishes a disappeared device from a single bad sensor
func (s *nvmlSource) checkLost(id DeviceID, ret nvml.Return) error {
	switch ret {
	case nvml.ERROR_GPU_IS_LOST, nvml.ERROR_UNINITIALIZED:
		return errors.New().Wrap(ErrDeviceLost, newNVMLError(ret))
	default:
		logger.Debug().Msgf("Metric read failed for %s: %v", id, nvml.ErrorString(ret))
		return nil
	}
}

func (s *nvmlSource) ListProcesses(ctx context.Context, id DeviceID) ([]ProcessInfo, error) {
	errFactory := errors.New()

	device, ok := s.devices[id]
	if !ok {
		return nil, errFactory.WithData(ErrDeviceNotFound, string(id))
	}

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(ErrProcessListFailed, err)
	}

	var processes []ProcessInfo

	if procs, ret := device.GetComputeRunningProcesses(); IsNVMLSuccess(ret) {
		for _, p := range procs {
			processes = append(processes, ProcessInfo{
				PID:      int(p.Pid),
				Name:     processName(int(p.Pid)),
				Type:     ProcessTypeCompute,
				MemoryMB: float64(p.UsedGpuMemory) / bytesToMiB,
			})
		}
	} else {
		logger.Debug().Msgf("Failed to list compute processes for %s: %v", id, nvml.ErrorString(ret))
	}

	if procs, ret := device.GetGraphicsRunningProcesses(); IsNVMLSuccess(ret) {
		for _, p := range procs {
			processes = append(processes, ProcessInfo{
				PID:      int(p.Pid),
				Name:     processName(int(p.Pid)),
				Type:     ProcessTypeGraphics,
				MemoryMB: float64(p.UsedGpuMemory) / bytesToMiB,
			})
		}
	} else {
		logger.Debug().Msgf("Failed to list graphics processes for %s: %v", id, nvml.ErrorString(ret))
	}

	return processes, nil
}

func (s *nvmlSource) KillProcess(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return errors.New().Wrap(ErrKillFailed, err)
	}

	logger.Info().Msgf("Sent SIGTERM to process %d", pid)

	return nil
}

func processName(pid int) string {
	cmdline, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return "Unknown"
	}

	name := strings.TrimSpace(strings.ReplaceAll(string(cmdline), "\x00", " "))
	if name == "" {
		return "Unknown"
	}

	return name
}
