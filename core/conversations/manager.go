package conversations

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/macbot-ai/macbot-core/core/events"
)

type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateThinking    State = "thinking"
	StateSpeaking    State = "speaking"
	StateInterrupted State = "interrupted"
)

// ErrInvalidTransition marks an operation called in a state that does not
// accept it. Such calls are no-ops: logged, never fatal.
var ErrInvalidTransition = errors.New("invalid conversation state transition")

const (
	DefaultContextBufferSize   = 100
	DefaultConversationTimeout = 5 * time.Minute
)

// Emitter receives payloads for re-broadcast on the bus. The Manager invokes
// it outside its lock, so an emitter may safely call back into the Manager.
type Emitter func(payload events.Payload)

// Manager is the single owner of conversation state. Every transition
// serializes through one mutex.
type Manager struct {
	mu         sync.Mutex
	state      State
	context    *Context
	activeTurn *Turn

	bufferSize int
	timeout    time.Duration
	emit       Emitter
	onState    []func(State)
	now        func() time.Time
}

type ManagerOption func(*Manager)

// WithEmitter wires outbound state/turn broadcasts.
func WithEmitter(emit Emitter) ManagerOption {
	return func(m *Manager) { m.emit = emit }
}

// WithContextBufferSize bounds the context window.
func WithContextBufferSize(size int) ManagerOption {
	return func(m *Manager) {
		if size > 0 {
			m.bufferSize = size
		}
	}
}

// WithConversationTimeout sets how long an idle context stays resumable.
func WithConversationTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithStateCallback registers a callback fired after each state change.
func WithStateCallback(callback func(State)) ManagerOption {
	return func(m *Manager) {
		if callback != nil {
			m.onState = append(m.onState, callback)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		state:      StateIdle,
		bufferSize: DefaultContextBufferSize,
		timeout:    DefaultConversationTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current conversation state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartConversation transitions Idle -> Listening. A conversation id seen
// within the conversation timeout resumes its existing context; otherwise a
// fresh context is allocated. An empty id allocates a new conversation.
func (m *Manager) StartConversation(conversationID string) (string, error) {
	m.mu.Lock()

	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return conversationID, m.invalidTransition("start_conversation", state)
	}

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	now := m.now()
	if m.context != nil &&
		m.context.ConversationID == conversationID &&
		now.Sub(m.context.LastActivity) < m.timeout {
		m.context.LastActivity = now
		logger.Info("resumed conversation", "conversation", conversationID)
	} else {
		m.context = &Context{
			ConversationID: conversationID,
			StartedAt:      now,
			LastActivity:   now,
		}
		logger.Info("started conversation", "conversation", conversationID)
	}

	m.setState(StateListening)
	pending := m.statePayloads()
	m.mu.Unlock()

	m.broadcast(pending, StateListening)
	return conversationID, nil
}

// AddUserInput appends a user turn and transitions Listening -> Thinking.
func (m *Manager) AddUserInput(text string) error {
	m.mu.Lock()

	if m.state != StateListening || m.context == nil {
		state := m.state
		m.mu.Unlock()
		return m.invalidTransition("add_user_input", state)
	}

	now := m.now()
	turn := Turn{Role: RoleUser, Text: text, Timestamp: now}
	m.context.appendTurn(turn, m.bufferSize)
	m.context.TurnCount++
	m.context.LastActivity = now

	m.setState(StateThinking)
	pending := append(m.turnPayloads(turn, true), m.statePayloads()...)
	m.mu.Unlock()

	m.broadcast(pending, StateThinking)
	return nil
}

// UpdateResponse sets the in-flight assistant turn's text. While incomplete
// it transitions Thinking/Speaking -> Speaking; on completion the turn is
// committed to context and the state returns to Idle. text is the full
// response so far, not a delta.
func (m *Manager) UpdateResponse(text string, complete bool) error {
	m.mu.Lock()

	if (m.state != StateThinking && m.state != StateSpeaking) || m.context == nil {
		state := m.state
		m.mu.Unlock()
		return m.invalidTransition("update_response", state)
	}

	now := m.now()
	if m.activeTurn == nil {
		m.activeTurn = &Turn{Role: RoleAssistant, Timestamp: now}
	}
	m.activeTurn.Text = text
	m.context.LastActivity = now

	var pending []events.Payload
	var state State
	if complete {
		turn := *m.activeTurn
		m.context.appendTurn(turn, m.bufferSize)
		m.activeTurn = nil
		m.setState(StateIdle)
		state = StateIdle
		pending = append(m.turnPayloads(turn, true), m.statePayloads()...)
	} else {
		turn := *m.activeTurn
		changed := m.state != StateSpeaking
		m.setState(StateSpeaking)
		state = StateSpeaking
		pending = m.turnPayloads(turn, false)
		if changed {
			pending = append(pending, m.statePayloads()...)
		}
	}
	m.mu.Unlock()

	m.broadcast(pending, state)
	return nil
}

// InterruptResponse applies barge-in. Callable from Listening, Thinking, or
// Speaking; the in-flight assistant turn is marked interrupted and retained
// in context, a cancellation event is broadcast for playback, and the state
// passes through Interrupted before settling on Listening, immediately ready
// for new input.
func (m *Manager) InterruptResponse() error {
	m.mu.Lock()

	switch m.state {
	case StateListening, StateThinking, StateSpeaking:
	default:
		state := m.state
		m.mu.Unlock()
		return m.invalidTransition("interrupt_response", state)
	}

	var pending []events.Payload
	conversationID := ""
	if m.context != nil {
		conversationID = m.context.ConversationID
		m.context.LastActivity = m.now()
	}

	if m.activeTurn != nil {
		m.activeTurn.Interrupted = true
		turn := *m.activeTurn
		m.context.appendTurn(turn, m.bufferSize)
		m.activeTurn = nil
		pending = append(pending, m.turnPayloads(turn, false)...)
		logger.Info("response interrupted", "conversation", conversationID, "partial_len", len(turn.Text))
	}

	m.setState(StateInterrupted)
	pending = append(pending, m.statePayloads()...)
	pending = append(pending, events.Interruption{ConversationID: conversationID, Reason: "barge-in"})

	m.setState(StateListening)
	pending = append(pending, m.statePayloads()...)
	m.mu.Unlock()

	m.broadcast(pending, StateInterrupted, StateListening)
	return nil
}

// Clear drops the context and returns to Idle. Valid from any state.
func (m *Manager) Clear() {
	m.mu.Lock()
	if m.context != nil {
		logger.Info("clearing conversation", "conversation", m.context.ConversationID)
	}
	m.context = nil
	m.activeTurn = nil
	m.setState(StateIdle)
	pending := m.statePayloads()
	m.mu.Unlock()

	m.broadcast(pending, StateIdle)
}

// Snapshot returns a deep copy of the current state, context, and in-flight
// turn. Callers never receive live references into the ring buffer.
type Snapshot struct {
	State      State
	Context    *Context
	ActiveTurn *Turn
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := Snapshot{State: m.state}
	if m.context != nil {
		copied := Context{}
		if err := copier.CopyWithOption(&copied, m.context, copier.Option{DeepCopy: true}); err != nil {
			logger.Error("context snapshot copy failed", "error", err)
		}
		snapshot.Context = &copied
	}
	if m.activeTurn != nil {
		turn := *m.activeTurn
		snapshot.ActiveTurn = &turn
	}
	return snapshot
}

// Summary is a compact view of the current conversation for status surfaces.
type Summary struct {
	ConversationID string        `json:"conversation_id"`
	State          State         `json:"state"`
	TurnCount      int           `json:"turn_count"`
	HistoryLength  int           `json:"history_length"`
	Duration       time.Duration `json:"duration"`
	ResponseActive bool          `json:"response_active"`
}

func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := Summary{State: m.state, ResponseActive: m.activeTurn != nil}
	if m.context != nil {
		summary.ConversationID = m.context.ConversationID
		summary.TurnCount = m.context.TurnCount
		summary.HistoryLength = len(m.context.Turns)
		summary.Duration = m.now().Sub(m.context.StartedAt)
	}
	return summary
}

// setState must be called with the lock held.
func (m *Manager) setState(state State) {
	if m.state != state {
		logger.Info("state changed", "from", string(m.state), "to", string(state))
	}
	m.state = state
}

// statePayloads must be called with the lock held.
func (m *Manager) statePayloads() []events.Payload {
	conversationID := ""
	if m.context != nil {
		conversationID = m.context.ConversationID
	}
	return []events.Payload{events.AssistantState{
		ConversationID: conversationID,
		State:          string(m.state),
	}}
}

// turnPayloads must be called with the lock held.
func (m *Manager) turnPayloads(turn Turn, complete bool) []events.Payload {
	conversationID := ""
	if m.context != nil {
		conversationID = m.context.ConversationID
	}
	return []events.Payload{events.ConversationUpdate{
		ConversationID: conversationID,
		Role:           string(turn.Role),
		Text:           turn.Text,
		Complete:       complete,
		Interrupted:    turn.Interrupted,
		Timestamp:      turn.Timestamp,
	}}
}

func (m *Manager) broadcast(pending []events.Payload, states ...State) {
	if m.emit != nil {
		for _, payload := range pending {
			m.emit(payload)
		}
	}
	for _, state := range states {
		for _, callback := range m.onState {
			callback(state)
		}
	}
}

func (m *Manager) invalidTransition(operation string, state State) error {
	logger.Warn("ignoring operation in current state", "operation", operation, "state", string(state))
	return fmt.Errorf("%s in state %s: %w", operation, state, ErrInvalidTransition)
}
