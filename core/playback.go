package coordination

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/macbot-ai/macbot-core/core/bus"
	"github.com/macbot-ai/macbot-core/core/events"
)

// BusPlayback runs the stop-playback handshake over the bus: Stop publishes
// a stop_playback request and waits for the matching playback_stopped
// acknowledgment from whichever service owns the speakers. The caller bounds
// the wait through ctx; a missing acknowledgment surfaces as ctx.Err().
type BusPlayback struct {
	client *bus.Client

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewBusPlayback(b bus.Bus) *BusPlayback {
	p := &BusPlayback{
		client:  bus.NewClient(b, "playback_control"),
		waiters: map[string]chan struct{}{},
	}
	p.client.RegisterHandler(events.KindPlaybackStopped, p.onStopped)
	return p
}

// Start registers the handshake client on the bus.
func (p *BusPlayback) Start() error { return p.client.Start() }

// Close unregisters from the bus.
func (p *BusPlayback) Close() error { return p.client.Stop() }

// Stop requests playback stop and waits for the acknowledgment.
func (p *BusPlayback) Stop(ctx context.Context) error {
	requestID := uuid.NewString()
	ack := make(chan struct{})

	p.mu.Lock()
	p.waiters[requestID] = ack
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, requestID)
		p.mu.Unlock()
	}()

	if err := p.client.Send(events.StopPlayback{RequestID: requestID}); err != nil {
		return err
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *BusPlayback) onStopped(envelope events.Envelope) {
	ack, ok := envelope.Payload.(events.PlaybackStopped)
	if !ok {
		return
	}

	p.mu.Lock()
	if waiter, ok := p.waiters[ack.RequestID]; ok {
		close(waiter)
		delete(p.waiters, ack.RequestID)
	}
	p.mu.Unlock()
}
