// Package transports bridges the in-process message bus to the outside
// world. The websocket server forwards conversation and health envelopes to
// connected UIs as JSON and turns inbound text/interrupt frames into
// assistant calls.
package transports

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/macbot-ai/macbot-core/core/bus"
	"github.com/macbot-ai/macbot-core/core/events"
)

// Controls is the surface the websocket bridge drives on inbound frames.
type Controls interface {
	AddUserInput(text string) error
	Interrupt() error
}

// sendBufferSize bounds each socket's outbound queue. A socket that cannot
// keep up loses its connection rather than stalling the broadcast path.
const sendBufferSize = 64

// forwardedKinds are the envelope kinds mirrored out to connected sockets.
var forwardedKinds = []events.Kind{
	events.KindConversationUpdate,
	events.KindAssistantState,
	events.KindServiceStatus,
	events.KindSystemStats,
}

type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// WebsocketServer serves /ws and fans bus traffic out to every connected
// socket.
type WebsocketServer struct {
	bind     string
	controls Controls
	client   *bus.Client
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	sockets map[*socket]struct{}
}

func NewWebsocketServer(b bus.Bus, controls Controls, bind string) *WebsocketServer {
	s := &WebsocketServer{
		bind:     bind,
		controls: controls,
		client:   bus.NewClient(b, "web", bus.WithClientID("web_bridge")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sockets: map[*socket]struct{}{},
	}

	for _, kind := range forwardedKinds {
		s.client.RegisterHandler(kind, s.forward)
	}
	return s
}

// Start registers the bus client and begins accepting connections. The
// listener is bound synchronously so bind failures surface here.
func (s *WebsocketServer) Start() error {
	if err := s.client.Start(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		_ = s.client.Stop()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", otelhttp.NewHandler(http.HandlerFunc(s.handleWS), "ws"))
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket server stopped", "error", err)
		}
	}()

	logger.Info("websocket server listening", "bind", listener.Addr().String())
	s.bind = listener.Addr().String()
	return nil
}

// Addr returns the bound address, useful when Start was given port 0.
func (s *WebsocketServer) Addr() string { return s.bind }

// Shutdown closes every socket and stops accepting connections.
func (s *WebsocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sockets := make([]*socket, 0, len(s.sockets))
	for sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		sock.close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if stopErr := s.client.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// forward mirrors one bus envelope to every connected socket.
func (s *WebsocketServer) forward(envelope events.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		logger.Error("failed to encode envelope", "kind", envelope.Kind, "error", err)
		return
	}

	s.mu.Lock()
	sockets := make([]*socket, 0, len(s.sockets))
	for sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		if !sock.trySend(data) {
			logger.Warn("dropping slow websocket client", "remote", sock.remote)
			s.remove(sock)
			sock.close()
		}
	}
}

func (s *WebsocketServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sock := newSocket(conn)
	s.mu.Lock()
	s.sockets[sock] = struct{}{}
	s.mu.Unlock()
	logger.Info("websocket client connected", "remote", sock.remote)

	go sock.writeLoop()
	s.readLoop(sock)

	s.remove(sock)
	sock.close()
	logger.Info("websocket client disconnected", "remote", sock.remote)
}

func (s *WebsocketServer) readLoop(sock *socket) {
	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("ignoring malformed frame", "remote", sock.remote, "error", err)
			continue
		}

		switch frame.Type {
		case "user_input":
			if frame.Text == "" {
				continue
			}
			if err := s.controls.AddUserInput(frame.Text); err != nil {
				logger.Warn("user input rejected", "error", err)
			}
		case "interrupt":
			if err := s.controls.Interrupt(); err != nil {
				logger.Warn("interrupt rejected", "error", err)
			}
		default:
			logger.Warn("ignoring unknown frame type", "type", frame.Type)
		}
	}
}

func (s *WebsocketServer) remove(sock *socket) {
	s.mu.Lock()
	delete(s.sockets, sock)
	s.mu.Unlock()
}

type socket struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string

	mu     sync.Mutex
	closed bool
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		remote: conn.RemoteAddr().String(),
	}
}

// trySend queues data without blocking; false means the buffer is full. A
// socket already being torn down swallows the frame.
func (s *socket) trySend(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *socket) writeLoop() {
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *socket) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	_ = s.conn.Close()
}
