package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// DefaultMemoryWarnPercent is the host memory usage above which the
	// monitor emits an advisory warning. Warnings never abort a dispatch.
	DefaultMemoryWarnPercent = 85.0

	// DefaultCPUWarnPercent is the host CPU usage warning threshold.
	DefaultCPUWarnPercent = 90.0

	// DefaultSampleInterval is how often the monitor samples the host.
	DefaultSampleInterval = 5 * time.Second
)

// ResourceWarning is an advisory notification that a host resource is
// running hot while renders are in flight.
type ResourceWarning struct {
	Resource  string // "memory" or "cpu"
	Percent   float64
	Threshold float64
}

// MonitorConfig controls the resource monitor. Zero values get defaults.
type MonitorConfig struct {
	Interval          time.Duration
	MemoryWarnPercent float64
	CPUWarnPercent    float64
	OnWarn            func(ResourceWarning)
	Log               log.Logger
}

// ResourceMonitor samples host memory and CPU usage while dispatches are
// in flight and emits advisory warnings above the configured thresholds.
// Overlapping dispatches share one sampling loop.
type ResourceMonitor struct {
	cfg MonitorConfig
	log log.Logger

	mu     sync.Mutex
	active int
	cancel context.CancelFunc

	// samplers are swappable in tests.
	memPercent func() (float64, error)
	cpuPercent func() (float64, error)
}

func NewResourceMonitor(cfg MonitorConfig) *ResourceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.MemoryWarnPercent <= 0 {
		cfg.MemoryWarnPercent = DefaultMemoryWarnPercent
	}
	if cfg.CPUWarnPercent <= 0 {
		cfg.CPUWarnPercent = DefaultCPUWarnPercent
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &ResourceMonitor{
		cfg:        cfg,
		log:        cfg.Log.New("component", "resource-monitor"),
		memPercent: sampleMemoryPercent,
		cpuPercent: sampleCPUPercent,
	}
}

// Start begins sampling if no dispatch is already being monitored and
// returns a stop handle. The loop is detached from the caller's context
// and shuts down when the last outstanding handle is called.
func (m *ResourceMonitor) Start(ctx context.Context) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active++
	if m.active == 1 {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		go m.loop(loopCtx)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.active--
			if m.active == 0 && m.cancel != nil {
				m.cancel()
				m.cancel = nil
			}
		})
	}
}

func (m *ResourceMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-ctx.Done():
			return
		}
	}
}

// sample takes one reading of each resource. Sampling failures are logged
// and skipped; the monitor is strictly advisory.
func (m *ResourceMonitor) sample() {
	if pct, err := m.memPercent(); err != nil {
		m.log.Debug("Failed to sample memory usage", "error", err)
	} else if pct >= m.cfg.MemoryWarnPercent {
		m.warn(ResourceWarning{Resource: "memory", Percent: pct, Threshold: m.cfg.MemoryWarnPercent})
	}

	if pct, err := m.cpuPercent(); err != nil {
		m.log.Debug("Failed to sample CPU usage", "error", err)
	} else if pct >= m.cfg.CPUWarnPercent {
		m.warn(ResourceWarning{Resource: "cpu", Percent: pct, Threshold: m.cfg.CPUWarnPercent})
	}
}

func (m *ResourceMonitor) warn(w ResourceWarning) {
	m.log.Warn("Host resource usage is high",
		"resource", w.Resource,
		"percent", w.Percent,
		"threshold", w.Threshold)
	metrics.RecordResourceWarning(w.Resource)
	if m.cfg.OnWarn != nil {
		m.cfg.OnWarn(w)
	}
}

func sampleMemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func sampleCPUPercent() (float64, error) {
	// Interval 0 measures since the previous call, which matches the
	// monitor's periodic sampling.
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}
