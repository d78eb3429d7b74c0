package events

import "time"

// KindServiceStatus identifies a per-service health snapshot.
const KindServiceStatus Kind = "service_status"

// ServiceStatus reports one dependent service's probe and breaker state.
type ServiceStatus struct {
	Service             string    `json:"service"`
	Status              string    `json:"status"`
	BreakerState        string    `json:"breaker_state,omitempty"`
	ResponseTimeMs      int64     `json:"response_time_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CheckedAt           time.Time `json:"checked_at"`
}

func (ServiceStatus) Kind() Kind { return KindServiceStatus }

// KindSystemStats identifies a host resource usage sample.
const KindSystemStats Kind = "system_stats"

// SystemStats carries one host resource usage sample.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

func (SystemStats) Kind() Kind { return KindSystemStats }
