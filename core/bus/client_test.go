package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/macbot-ai/macbot-core/core/events"
)

func TestSendBeforeStartReturnsErrNotConnected(t *testing.T) {
	client := NewClient(NewBroker(), "voice_assistant")

	if err := client.Send(events.UserInput{Text: "hi"}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	broker := NewBroker()
	client := NewClient(broker, "voice_assistant", WithClientID("voice"))

	if err := client.Start(); err != nil {
		t.Fatalf("expected first start to succeed, got %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("expected repeated start to be a no-op, got %v", err)
	}
	defer client.Stop()

	if _, err := broker.Register("voice", "voice_assistant"); err != ErrDuplicateClient {
		t.Fatalf("expected client to hold its registration, got %v", err)
	}
}

func TestClientDispatchesByKind(t *testing.T) {
	broker := NewBroker()
	client := NewClient(broker, "display", WithClientID("display"))

	received := make(chan events.Envelope, 1)
	client.RegisterHandler(events.KindUserInput, func(envelope events.Envelope) {
		received <- envelope
	})
	client.RegisterHandler(events.KindSystemStats, func(events.Envelope) {
		t.Errorf("system_stats handler must not fire for user_input")
	})

	if err := client.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	defer client.Stop()

	broker.Publish(events.New("publisher", events.UserInput{Text: "hello"}))

	select {
	case envelope := <-received:
		if envelope.Payload.(events.UserInput).Text != "hello" {
			t.Fatalf("expected dispatched payload, got %+v", envelope.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected handler to fire")
	}
}

func TestHandlerPanicDoesNotKillConsumptionLoop(t *testing.T) {
	broker := NewBroker()
	client := NewClient(broker, "display", WithClientID("display"))

	var handled atomic.Int64
	done := make(chan struct{}, 2)
	client.RegisterHandler(events.KindUserInput, func(events.Envelope) {
		handled.Add(1)
		done <- struct{}{}
		panic("handler bug")
	})

	if err := client.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	defer client.Stop()

	broker.Publish(events.New("publisher", events.UserInput{Text: "first"}))
	broker.Publish(events.New("publisher", events.UserInput{Text: "second"}))

	for range 2 {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("expected loop to survive the panic, handled %d", handled.Load())
		}
	}
}

func TestStopDrainsQueuedEnvelopesWithinTimeout(t *testing.T) {
	broker := NewBroker()
	client := NewClient(broker, "display", WithClientID("display"))

	var handled atomic.Int64
	client.RegisterHandler(events.KindUserInput, func(events.Envelope) {
		handled.Add(1)
	})

	if err := client.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}

	for range 5 {
		broker.Publish(events.New("publisher", events.UserInput{Text: "queued"}))
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("expected stop to join cleanly, got %v", err)
	}

	if handled.Load() != 5 {
		t.Fatalf("expected all queued envelopes drained on stop, handled %d", handled.Load())
	}

	if err := client.Send(events.UserInput{Text: "late"}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after stop, got %v", err)
	}
}

func TestSendStampsSourceWithClientID(t *testing.T) {
	broker := NewBroker()
	sender := NewClient(broker, "voice_assistant", WithClientID("voice"))
	observer, _ := broker.Register("observer", "display")

	if err := sender.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	defer sender.Stop()

	if err := sender.Send(events.UserInput{Text: "hi"}); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	envelope := <-observer.Envelopes()
	if envelope.Source != "voice" {
		t.Fatalf("expected source %q, got %q", "voice", envelope.Source)
	}
	if envelope.ID == "" || envelope.Timestamp.IsZero() {
		t.Fatalf("expected stamped id and timestamp, got %+v", envelope)
	}
}
