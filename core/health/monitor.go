package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/macbot-ai/macbot-core/core/events"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ServiceState string

const (
	StateHealthy   ServiceState = "healthy"
	StateDegraded  ServiceState = "degraded"
	StateUnhealthy ServiceState = "unhealthy"
	StateUnknown   ServiceState = "unknown"
)

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultProbeTimeout  = 10 * time.Second

	// loopTick is the monitor loop cadence; individual checks run only when
	// their own interval has elapsed.
	loopTick = time.Second
)

// CheckFunc probes one service. The context carries the probe's bounded
// timeout; a nil return means healthy.
type CheckFunc func(ctx context.Context) error

// HealthRecord is the recorded outcome of a service's most recent probe.
type HealthRecord struct {
	Status              ServiceState `json:"status"`
	LastCheck           time.Time    `json:"last_check"`
	ResponseTimeMs      int64        `json:"response_time_ms"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
}

// AlertFunc is invoked on service status transitions and resource alerts.
type AlertFunc func(service string, from, to ServiceState, err error)

type serviceCheck struct {
	name     string
	fn       CheckFunc
	interval time.Duration
	timeout  time.Duration
	record   HealthRecord
}

// Monitor periodically probes dependent services and owns their breakers.
type Monitor struct {
	mu       sync.Mutex
	checks   map[string]*serviceCheck
	breakers map[string]*Breaker
	alerts   []AlertFunc
	resource *resourceCheck

	emit func(payload events.Payload)
	now  func() time.Time

	running  bool
	done     chan struct{}
	loopDone chan struct{}
}

type MonitorOption func(*Monitor)

// WithEmitter wires service_status / system_stats broadcasts.
func WithEmitter(emit func(payload events.Payload)) MonitorOption {
	return func(m *Monitor) { m.emit = emit }
}

// WithMonitorClock overrides the monitor's time source.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		checks:   map[string]*serviceCheck{},
		breakers: map[string]*Breaker{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddCheck registers a probe for one service. Non-positive interval/timeout
// fall back to the defaults.
func (m *Monitor) AddCheck(name string, fn CheckFunc, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = &serviceCheck{
		name:     name,
		fn:       fn,
		interval: interval,
		timeout:  timeout,
		record:   HealthRecord{Status: StateUnknown},
	}
	logger.Info("health check added", "service", name, "interval", interval)
}

// AddBreaker creates (or replaces) the breaker gating calls to a service.
func (m *Monitor) AddBreaker(name string, threshold int, recovery time.Duration) *Breaker {
	breaker := NewBreaker(name, threshold, recovery, WithBreakerClock(m.now))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[name] = breaker
	logger.Info("circuit breaker added", "service", name, "threshold", threshold, "recovery", recovery)
	return breaker
}

// Breaker returns the named breaker, or nil when the service has none.
func (m *Monitor) Breaker(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakers[name]
}

// Do runs fn gated by the named service's breaker. Services without a
// breaker are called directly.
func (m *Monitor) Do(ctx context.Context, service string, fn func(context.Context) error) error {
	if breaker := m.Breaker(service); breaker != nil {
		return breaker.Do(ctx, fn)
	}
	return fn(ctx)
}

// AddAlertCallback registers a callback for status transitions.
func (m *Monitor) AddAlertCallback(callback AlertFunc) {
	if callback == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, callback)
}

// Start launches the probe loop on its own goroutine. Probes carry bounded
// timeouts so a hung dependency cannot stall anything but its own check.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.done = make(chan struct{})
	m.loopDone = make(chan struct{})
	done, loopDone := m.done, m.loopDone
	m.mu.Unlock()

	go m.loop(done, loopDone)
	logger.Info("health monitoring started")
}

// Stop terminates the probe loop with a bounded join.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	done, loopDone := m.done, m.loopDone
	m.mu.Unlock()

	close(done)
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		logger.Warn("monitor loop did not exit before timeout")
	}
	logger.Info("health monitoring stopped")
}

func (m *Monitor) loop(done, loopDone chan struct{}) {
	defer close(loopDone)

	ticker := time.NewTicker(loopTick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.runDueChecks(context.Background())
		}
	}
}

// runDueChecks executes every check whose interval has elapsed, plus the
// resource check when configured.
func (m *Monitor) runDueChecks(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	due := make([]*serviceCheck, 0, len(m.checks))
	for _, check := range m.checks {
		if check.record.LastCheck.IsZero() || now.Sub(check.record.LastCheck) >= check.interval {
			due = append(due, check)
		}
	}
	resource := m.resource
	m.mu.Unlock()

	for _, check := range due {
		m.runCheck(ctx, check)
	}

	if resource != nil && (resource.lastRun.IsZero() || now.Sub(resource.lastRun) >= resource.interval) {
		m.runResourceCheck(ctx, resource)
	}
}

func (m *Monitor) runCheck(ctx context.Context, check *serviceCheck) {
	ctx, span := tracer.Start(ctx, "health probe "+check.name)
	defer span.End()

	probeCtx, cancel := context.WithTimeout(ctx, check.timeout)
	defer cancel()

	start := m.now()
	err := check.fn(probeCtx)
	elapsed := m.now().Sub(start)

	m.mu.Lock()
	previous := check.record.Status
	check.record.LastCheck = m.now()
	check.record.ResponseTimeMs = elapsed.Milliseconds()

	if err != nil {
		// Probe timeouts count as failures; they never crash the loop.
		check.record.Status = StateUnhealthy
		check.record.ConsecutiveFailures++
		check.record.LastError = err.Error()
		logger.Warn("health check failed", "service", check.name, "error", err)
	} else if elapsed > check.timeout {
		check.record.Status = StateDegraded
		check.record.ConsecutiveFailures++
		check.record.LastError = fmt.Sprintf("check exceeded %s", check.timeout)
	} else {
		check.record.Status = StateHealthy
		check.record.ConsecutiveFailures = 0
		check.record.LastError = ""
	}
	record := check.record
	alerts := append([]AlertFunc(nil), m.alerts...)
	emit := m.emit
	m.mu.Unlock()

	if previous != record.Status && previous != StateUnknown {
		logger.Warn("service status changed",
			"service", check.name, "from", string(previous), "to", string(record.Status))
		for _, alert := range alerts {
			alert(check.name, previous, record.Status, err)
		}
	}

	if emit != nil {
		breakerState := ""
		if breaker := m.Breaker(check.name); breaker != nil {
			breakerState = string(breaker.State())
		}
		emit(events.ServiceStatus{
			Service:             check.name,
			Status:              string(record.Status),
			BreakerState:        breakerState,
			ResponseTimeMs:      record.ResponseTimeMs,
			ConsecutiveFailures: record.ConsecutiveFailures,
			CheckedAt:           record.LastCheck,
		})
	}
}

// Status reports every service's record plus breaker states.
type Status struct {
	Overall   ServiceState             `json:"overall_status"`
	Services  map[string]HealthRecord  `json:"services"`
	Breakers  map[string]BreakerStatus `json:"circuit_breakers"`
	Timestamp time.Time                `json:"timestamp"`
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	services := make(map[string]HealthRecord, len(m.checks))
	for name, check := range m.checks {
		services[name] = check.record
	}
	breakers := make(map[string]*Breaker, len(m.breakers))
	for name, breaker := range m.breakers {
		breakers[name] = breaker
	}
	now := m.now()
	m.mu.Unlock()

	status := Status{
		Overall:   StateHealthy,
		Services:  services,
		Breakers:  make(map[string]BreakerStatus, len(breakers)),
		Timestamp: now,
	}
	for name, breaker := range breakers {
		status.Breakers[name] = breaker.Status()
	}

	for _, record := range services {
		switch record.Status {
		case StateUnhealthy, StateUnknown:
			status.Overall = StateUnhealthy
		case StateDegraded:
			if status.Overall == StateHealthy {
				status.Overall = StateDegraded
			}
		}
	}
	return status
}

// IsHealthy reports whether a specific service's last probe succeeded.
func (m *Monitor) IsHealthy(service string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	check, ok := m.checks[service]
	return ok && check.record.Status == StateHealthy
}

// HTTPCheck builds a CheckFunc probing url and expecting a 2xx response. The
// client transport is instrumented so probe latency shows up in traces.
func HTTPCheck(url string) CheckFunc {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("probe returned status %d", resp.StatusCode)
		}
		return nil
	}
}
