// Package interruptions bridges voice-activity energy into conversation
// barge-in.
//
// The Coordinator keeps a rolling RMS measure over recent energy samples.
// While the assistant is speaking, crossing the configured threshold fires
// the interrupt callback exactly once, after which a cooldown window
// suppresses retriggers so the assistant's own trailing audio cannot re-fire
// it. After firing, the coordinator asks the audio output to stop and waits a
// bounded time for the acknowledgment; on timeout it proceeds anyway
// (fail-open) so the conversation never hangs on playback hardware.
package interruptions

import (
	"context"
	"math"
	"sync"
	"time"
)

// Playback is the audio output collaborator. Stop returns once playback has
// acknowledged cessation, or with the context's error when it has not.
type Playback interface {
	Stop(ctx context.Context) error
}

const (
	DefaultThreshold  = 0.01
	DefaultWindowSize = 32
	DefaultCooldown   = time.Second
	DefaultAckTimeout = 500 * time.Millisecond
)

// Coordinator converts a continuous voice-activity signal into debounced
// interrupt calls.
type Coordinator struct {
	mu sync.Mutex

	enabled   bool
	speaking  bool
	threshold float64

	window   []float64
	windowAt int
	filled   int

	cooldown   time.Duration
	ackTimeout time.Duration
	lastFired  time.Time
	fired      uint64

	interrupt func()
	playback  Playback
	now       func() time.Time
}

type CoordinatorOption func(*Coordinator)

// WithPlayback wires the stop-playback handshake target. Without it the
// coordinator only fires the interrupt callback.
func WithPlayback(playback Playback) CoordinatorOption {
	return func(c *Coordinator) { c.playback = playback }
}

// WithThreshold sets the RMS level treated as user speech.
func WithThreshold(threshold float64) CoordinatorOption {
	return func(c *Coordinator) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// WithCooldown sets the retrigger suppression window.
func WithCooldown(cooldown time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if cooldown > 0 {
			c.cooldown = cooldown
		}
	}
}

// WithAckTimeout bounds the stop-playback acknowledgment wait.
func WithAckTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.ackTimeout = timeout
		}
	}
}

// WithWindowSize sets how many samples the rolling measure spans.
func WithWindowSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if size > 0 {
			c.window = make([]float64, size)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator builds a coordinator firing the given interrupt callback,
// typically the conversation manager's InterruptResponse.
func NewCoordinator(interrupt func(), opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		enabled:    true,
		threshold:  DefaultThreshold,
		window:     make([]float64, DefaultWindowSize),
		cooldown:   DefaultCooldown,
		ackTimeout: DefaultAckTimeout,
		interrupt:  interrupt,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSpeaking gates the detector to assistant speech. Crossing the boundary
// in either direction resets the rolling window so stale energy from before
// the phase change cannot trigger an interrupt.
func (c *Coordinator) SetSpeaking(speaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.speaking != speaking {
		c.resetWindow()
	}
	c.speaking = speaking
}

// SetThreshold adjusts the voice-activity threshold at runtime.
func (c *Coordinator) SetThreshold(threshold float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if threshold > 0 {
		c.threshold = threshold
		logger.Info("voice activity threshold set", "threshold", threshold)
	}
}

// Enable toggles detection without dropping configuration.
func (c *Coordinator) Enable(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Observe feeds one voice-activity energy sample. It returns true when this
// sample fired an interrupt. The interrupt callback runs before the playback
// handshake, so the conversation is already redirected even if the playback
// acknowledgment never arrives.
func (c *Coordinator) Observe(sample float64) bool {
	c.mu.Lock()

	c.window[c.windowAt] = sample
	c.windowAt = (c.windowAt + 1) % len(c.window)
	if c.filled < len(c.window) {
		c.filled++
	}

	if !c.enabled || !c.speaking {
		c.mu.Unlock()
		return false
	}

	now := c.now()
	if !c.lastFired.IsZero() && now.Sub(c.lastFired) < c.cooldown {
		c.mu.Unlock()
		return false
	}

	if c.rms() <= c.threshold {
		c.mu.Unlock()
		return false
	}

	c.lastFired = now
	c.fired++
	c.resetWindow()
	interrupt := c.interrupt
	playback := c.playback
	ackTimeout := c.ackTimeout
	c.mu.Unlock()

	logger.Info("voice activity over threshold, firing interrupt")
	if interrupt != nil {
		interrupt()
	}
	c.stopPlayback(playback, ackTimeout)
	return true
}

// Status is a point-in-time view of the detector.
type Status struct {
	Enabled   bool      `json:"enabled"`
	Speaking  bool      `json:"speaking"`
	Threshold float64   `json:"threshold"`
	Level     float64   `json:"level"`
	Fired     uint64    `json:"fired"`
	LastFired time.Time `json:"last_fired"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Enabled:   c.enabled,
		Speaking:  c.speaking,
		Threshold: c.threshold,
		Level:     c.rms(),
		Fired:     c.fired,
		LastFired: c.lastFired,
	}
}

func (c *Coordinator) stopPlayback(playback Playback, ackTimeout time.Duration) {
	if playback == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if err := playback.Stop(ctx); err != nil {
		logger.Warn("stop-playback acknowledgment missing, proceeding anyway", "error", err)
	}
}

// rms must be called with the lock held.
func (c *Coordinator) rms() float64 {
	if c.filled == 0 {
		return 0
	}

	sum := 0.0
	for i := range c.filled {
		sum += c.window[i] * c.window[i]
	}
	return math.Sqrt(sum / float64(c.filled))
}

// resetWindow must be called with the lock held.
func (c *Coordinator) resetWindow() {
	for i := range c.window {
		c.window[i] = 0
	}
	c.windowAt = 0
	c.filled = 0
}
