package bus

import (
	"fmt"
	"testing"

	"github.com/macbot-ai/macbot-core/core/events"
)

func TestPublishPreservesPerSubscriberOrder(t *testing.T) {
	broker := NewBroker()
	sub, err := broker.Register("listener", "display")
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	for i := range 10 {
		broker.Publish(events.New("publisher", events.UserInput{Text: fmt.Sprintf("msg-%d", i)}))
	}

	for i := range 10 {
		envelope := <-sub.Envelopes()
		input, ok := envelope.Payload.(events.UserInput)
		if !ok {
			t.Fatalf("expected UserInput payload, got %T", envelope.Payload)
		}
		if want := fmt.Sprintf("msg-%d", i); input.Text != want {
			t.Fatalf("expected %q at position %d, got %q", want, i, input.Text)
		}
	}
}

func TestPublishBeyondCapacityDropsNewestAndNeverBlocks(t *testing.T) {
	broker := NewBroker(WithQueueCapacity(3))
	sub, err := broker.Register("slow", "display")
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	// No consumer: the queue fills after three envelopes. The publisher must
	// return regardless.
	for i := range 5 {
		broker.Publish(events.New("publisher", events.UserInput{Text: fmt.Sprintf("msg-%d", i)}))
	}

	if sub.Delivered() != 3 {
		t.Fatalf("expected 3 delivered, got %d", sub.Delivered())
	}
	if sub.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", sub.Dropped())
	}

	// Oldest-preserved: the queued envelopes are the first three published.
	for i := range 3 {
		envelope := <-sub.Envelopes()
		if want := fmt.Sprintf("msg-%d", i); envelope.Payload.(events.UserInput).Text != want {
			t.Fatalf("expected %q preserved at position %d, got %q", want, i, envelope.Payload.(events.UserInput).Text)
		}
	}
}

func TestRegisterRejectsDuplicateClientID(t *testing.T) {
	broker := NewBroker()
	if _, err := broker.Register("voice", "voice_assistant"); err != nil {
		t.Fatalf("expected first registration to succeed, got %v", err)
	}

	if _, err := broker.Register("voice", "voice_assistant"); err != ErrDuplicateClient {
		t.Fatalf("expected ErrDuplicateClient, got %v", err)
	}
}

func TestPublishSkipsOriginator(t *testing.T) {
	broker := NewBroker()
	origin, _ := broker.Register("origin", "voice_assistant")
	other, _ := broker.Register("other", "display")

	broker.Publish(events.New("origin", events.UserInput{Text: "hi"}))

	if origin.Delivered() != 0 {
		t.Fatalf("expected originator to receive nothing, got %d", origin.Delivered())
	}
	if other.Delivered() != 1 {
		t.Fatalf("expected other subscriber to receive the envelope, got %d", other.Delivered())
	}
}

func TestNoRetroactiveDeliveryToLaterRegistrants(t *testing.T) {
	broker := NewBroker()
	broker.Publish(events.New("publisher", events.UserInput{Text: "early"}))

	late, err := broker.Register("late", "display")
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	if late.Delivered() != 0 || len(late.Envelopes()) != 0 {
		t.Fatalf("expected empty queue for late registrant, got %d queued", len(late.Envelopes()))
	}
}

func TestTargetedPublish(t *testing.T) {
	broker := NewBroker()
	display, _ := broker.Register("display-1", "display")
	voiceA, _ := broker.Register("voice-a", "voice_assistant")
	voiceB, _ := broker.Register("voice-b", "voice_assistant")

	broker.Publish(events.New("publisher", events.UserInput{Text: "to service"}), ToService("voice_assistant"))
	if display.Delivered() != 0 {
		t.Fatalf("expected display to be excluded, got %d", display.Delivered())
	}
	if voiceA.Delivered() != 1 || voiceB.Delivered() != 1 {
		t.Fatalf("expected both voice clients to receive, got %d and %d", voiceA.Delivered(), voiceB.Delivered())
	}

	broker.Publish(events.New("publisher", events.UserInput{Text: "to client"}), ToClient("voice-a"))
	if voiceA.Delivered() != 2 {
		t.Fatalf("expected targeted client to receive, got %d", voiceA.Delivered())
	}
	if voiceB.Delivered() != 1 {
		t.Fatalf("expected untargeted client to be skipped, got %d", voiceB.Delivered())
	}
}

func TestUnregisterClosesQueueAfterPending(t *testing.T) {
	broker := NewBroker()
	sub, _ := broker.Register("leaver", "display")

	broker.Publish(events.New("publisher", events.UserInput{Text: "pending"}))
	broker.Unregister("leaver")

	envelope, ok := <-sub.Envelopes()
	if !ok {
		t.Fatalf("expected pending envelope before closure")
	}
	if envelope.Payload.(events.UserInput).Text != "pending" {
		t.Fatalf("expected pending envelope, got %+v", envelope.Payload)
	}

	if _, ok := <-sub.Envelopes(); ok {
		t.Fatalf("expected queue closed after drain")
	}

	// Publishing after unregister must not reach the removed subscriber.
	broker.Publish(events.New("publisher", events.UserInput{Text: "late"}))
}

func TestServiceStatusGroupsByServiceType(t *testing.T) {
	broker := NewBroker()
	broker.Register("voice-1", "voice_assistant")
	broker.Register("display-1", "display")
	broker.Register("display-2", "display")

	status := broker.ServiceStatus()
	if len(status) != 2 {
		t.Fatalf("expected two service types, got %d", len(status))
	}
	if status["display"].Count != 2 {
		t.Fatalf("expected two display clients, got %d", status["display"].Count)
	}
	if status["voice_assistant"].Count != 1 {
		t.Fatalf("expected one voice client, got %d", status["voice_assistant"].Count)
	}
}
