package transports

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/macbot-ai/macbot-core/core/bus"
	"github.com/macbot-ai/macbot-core/core/events"
)

type controlsStub struct {
	mu         sync.Mutex
	inputs     []string
	interrupts int
}

func (c *controlsStub) AddUserInput(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, text)
	return nil
}

func (c *controlsStub) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	return nil
}

func startServer(t *testing.T) (*WebsocketServer, *bus.Broker, *controlsStub, *websocket.Conn) {
	t.Helper()

	broker := bus.NewBroker()
	controls := &controlsStub{}
	server := NewWebsocketServer(broker, controls, "127.0.0.1:0")
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return server, broker, controls, conn
}

func TestForwardsConversationUpdatesAsJSON(t *testing.T) {
	_, broker, _, conn := startServer(t)

	broker.Publish(events.New("conversation", events.ConversationUpdate{
		ConversationID: "c1",
		Role:           "assistant",
		Text:           "hello there",
		Complete:       true,
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read forwarded frame: %v", err)
	}

	var envelope struct {
		Kind    events.Kind `json:"type"`
		Source  string      `json:"source"`
		Payload struct {
			Text string `json:"text"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode forwarded frame: %v", err)
	}
	if envelope.Kind != events.KindConversationUpdate {
		t.Fatalf("expected conversation_update, got %s", envelope.Kind)
	}
	if envelope.Payload.Text != "hello there" {
		t.Fatalf("expected payload text forwarded, got %q", envelope.Payload.Text)
	}
}

func TestInboundFramesDriveControls(t *testing.T) {
	_, _, controls, conn := startServer(t)

	frames := []string{
		`{"type":"user_input","text":"what time is it"}`,
		`{"type":"interrupt"}`,
		`{"type":"user_input","text":""}`,
		`{"type":"bogus"}`,
		`not json at all`,
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		controls.mu.Lock()
		done := len(controls.inputs) == 1 && controls.interrupts == 1
		controls.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	controls.mu.Lock()
	defer controls.mu.Unlock()
	if len(controls.inputs) != 1 || controls.inputs[0] != "what time is it" {
		t.Fatalf("expected one user input, got %v", controls.inputs)
	}
	if controls.interrupts != 1 {
		t.Fatalf("expected one interrupt, got %d", controls.interrupts)
	}
}

func TestHealthEnvelopesAreForwarded(t *testing.T) {
	_, broker, _, conn := startServer(t)

	broker.Publish(events.New("health", events.SystemStats{CPUPercent: 42}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read forwarded frame: %v", err)
	}

	var envelope struct {
		Kind events.Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode forwarded frame: %v", err)
	}
	if envelope.Kind != events.KindSystemStats {
		t.Fatalf("expected system_stats, got %s", envelope.Kind)
	}
}

func TestSlowSocketIsDroppedWithoutStallingOthers(t *testing.T) {
	server, broker, _, _ := startServer(t)

	// The client never reads. Large payloads saturate the kernel's socket
	// buffer so the writer blocks and the bounded send buffer fills.
	text := strings.Repeat("x", 64*1024)
	for range sendBufferSize * 4 {
		broker.Publish(events.New("conversation", events.ConversationUpdate{
			ConversationID: "c1",
			Role:           "assistant",
			Text:           text,
		}))
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		server.mu.Lock()
		remaining := len(server.sockets)
		server.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected the slow socket to be dropped")
}
