package health

import (
	"context"
	"time"

	"github.com/macbot-ai/macbot-core/core/events"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceThresholds are the usage percentages above which resource alerts
// fire. Zero values fall back to the defaults.
type ResourceThresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// DefaultResourceThresholds mirror the point where the host is considered
// critically loaded.
var DefaultResourceThresholds = ResourceThresholds{
	CPUPercent:    95,
	MemoryPercent: 95,
	DiskPercent:   95,
}

// ResourceUsage is one host usage sample.
type ResourceUsage struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// ResourceSampler collects one usage sample. The default reads live host
// stats; tests inject a deterministic sampler.
type ResourceSampler func(ctx context.Context) (ResourceUsage, error)

const resourceService = "system_resources"

type resourceCheck struct {
	thresholds ResourceThresholds
	sampler    ResourceSampler
	interval   time.Duration
	lastRun    time.Time
	status     ServiceState
}

// WithResourceCheck enables host resource monitoring on the probe cycle.
// Resource alerts raise callbacks but never open a breaker; there is no
// remote call to gate. A nil sampler uses live host stats.
func WithResourceCheck(thresholds ResourceThresholds, interval time.Duration, sampler ResourceSampler) MonitorOption {
	return func(m *Monitor) {
		if thresholds.CPUPercent <= 0 {
			thresholds.CPUPercent = DefaultResourceThresholds.CPUPercent
		}
		if thresholds.MemoryPercent <= 0 {
			thresholds.MemoryPercent = DefaultResourceThresholds.MemoryPercent
		}
		if thresholds.DiskPercent <= 0 {
			thresholds.DiskPercent = DefaultResourceThresholds.DiskPercent
		}
		if interval <= 0 {
			interval = time.Minute
		}
		if sampler == nil {
			sampler = sampleHostResources
		}
		m.resource = &resourceCheck{
			thresholds: thresholds,
			sampler:    sampler,
			interval:   interval,
			status:     StateUnknown,
		}
	}
}

func (m *Monitor) runResourceCheck(ctx context.Context, resource *resourceCheck) {
	usage, err := resource.sampler(ctx)

	m.mu.Lock()
	resource.lastRun = m.now()
	if err != nil {
		m.mu.Unlock()
		logger.Warn("resource sampling failed", "error", err)
		return
	}

	previous := resource.status
	status := StateHealthy
	if usage.CPUPercent > resource.thresholds.CPUPercent ||
		usage.MemoryPercent > resource.thresholds.MemoryPercent ||
		usage.DiskPercent > resource.thresholds.DiskPercent {
		status = StateUnhealthy
	}
	resource.status = status
	alerts := append([]AlertFunc(nil), m.alerts...)
	emit := m.emit
	m.mu.Unlock()

	if previous != status && previous != StateUnknown {
		logger.Warn("resource status changed", "from", string(previous), "to", string(status),
			"cpu", usage.CPUPercent, "memory", usage.MemoryPercent, "disk", usage.DiskPercent)
		for _, alert := range alerts {
			alert(resourceService, previous, status, nil)
		}
	}

	if emit != nil {
		emit(events.SystemStats{
			CPUPercent:    usage.CPUPercent,
			MemoryPercent: usage.MemoryPercent,
			DiskPercent:   usage.DiskPercent,
		})
	}
}

func sampleHostResources(ctx context.Context) (ResourceUsage, error) {
	usage := ResourceUsage{}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return usage, err
	}
	if len(cpuPercents) > 0 {
		usage.CPUPercent = cpuPercents[0]
	}

	memory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return usage, err
	}
	usage.MemoryPercent = memory.UsedPercent

	diskUsage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return usage, err
	}
	usage.DiskPercent = diskUsage.UsedPercent

	return usage, nil
}
