// Package coordination wires the conversation manager, barge-in coordinator,
// health monitor, and message bus into one assistant facade. Services talk
// to each other only through the bus; the facade owns the goroutine that
// turns user input into a streamed, interruptible response.
package coordination

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/macbot-ai/macbot-core/core/bus"
	"github.com/macbot-ai/macbot-core/core/config"
	"github.com/macbot-ai/macbot-core/core/conversations"
	"github.com/macbot-ai/macbot-core/core/events"
	"github.com/macbot-ai/macbot-core/core/health"
	"github.com/macbot-ai/macbot-core/core/interruptions"
)

const (
	serviceLLM = "llm"
	serviceRAG = "rag"

	knowledgeLimit = 3
)

type Assistant struct {
	cfg *config.Config

	broker      *bus.Broker
	client      *bus.Client
	manager     *conversations.Manager
	coordinator *interruptions.Coordinator
	monitor     *health.Monitor

	llm        LLM
	rag        RAG
	playback   interruptions.Playback
	tools      []Tool
	extraTools []Tool

	mu             sync.Mutex
	conversationID string
	turnCancel     context.CancelFunc
	baseCtx        context.Context
	started        bool

	closeOnce sync.Once
}

func New(cfg *config.Config, opts ...Option) *Assistant {
	if cfg == nil {
		cfg = config.Default()
	}

	a := &Assistant{
		cfg:     cfg,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.broker = bus.NewBroker(bus.WithQueueCapacity(cfg.Bus.QueueCapacity))
	a.client = bus.NewClient(a.broker, "assistant", bus.WithClientID("assistant"))
	a.client.RegisterHandler(events.KindUserInput, a.onUserInput)

	// Without an explicit playback sink the stop handshake runs over the
	// bus, so whichever service owns the speakers can acknowledge.
	if a.playback == nil {
		a.playback = NewBusPlayback(a.broker)
	}

	a.manager = conversations.NewManager(
		conversations.WithEmitter(a.emit),
		conversations.WithContextBufferSize(cfg.Conversation.ContextBufferSize),
		conversations.WithConversationTimeout(cfg.Conversation.ConversationTimeout),
		conversations.WithStateCallback(func(state conversations.State) {
			a.coordinator.SetSpeaking(state == conversations.StateSpeaking)
		}),
	)

	coordinatorOpts := []interruptions.CoordinatorOption{
		interruptions.WithThreshold(cfg.Interruption.VADThreshold),
		interruptions.WithCooldown(cfg.Interruption.Cooldown),
		interruptions.WithAckTimeout(cfg.Interruption.AckTimeout),
	}
	if a.playback != nil {
		coordinatorOpts = append(coordinatorOpts, interruptions.WithPlayback(a.playback))
	}
	a.coordinator = interruptions.NewCoordinator(a.onBargeIn, coordinatorOpts...)

	a.monitor = health.NewMonitor(
		health.WithEmitter(a.emit),
		health.WithResourceCheck(health.ResourceThresholds{
			CPUPercent:    cfg.Health.Resources.CPUPercent,
			MemoryPercent: cfg.Health.Resources.MemoryPercent,
			DiskPercent:   cfg.Health.Resources.DiskPercent,
		}, cfg.Health.CheckInterval, nil),
	)
	a.monitor.AddBreaker(serviceLLM, cfg.Health.FailureThreshold, cfg.Health.RecoveryTimeout)
	if a.rag != nil {
		a.monitor.AddBreaker(serviceRAG, cfg.Health.FailureThreshold, cfg.Health.RecoveryTimeout)
	}
	for _, service := range cfg.Health.Services {
		a.monitor.AddCheck(service.Name, health.HTTPCheck(service.URL), cfg.Health.CheckInterval, cfg.Health.ProbeTimeout)
	}

	a.tools = append(assistantTools(a), a.extraTools...)
	return a
}

// Bus exposes the broker so transports and sibling services can register
// their own clients.
func (a *Assistant) Bus() bus.Bus { return a.broker }

// Start connects the facade to the bus and launches health monitoring. ctx
// is the base context for response generation; cancelling it closes the
// assistant.
func (a *Assistant) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.baseCtx = ctx
	a.mu.Unlock()

	if err := a.client.Start(); err != nil {
		return err
	}
	if busPlayback, ok := a.playback.(*BusPlayback); ok {
		if err := busPlayback.Start(); err != nil {
			return err
		}
	}

	a.monitor.Start()
	a.coordinator.Enable(true)

	go func() {
		<-ctx.Done()
		a.Close()
	}()

	logger.Info("assistant started")
	return nil
}

// Close stops response generation, monitoring, and the bus client.
func (a *Assistant) Close() {
	a.closeOnce.Do(func() {
		a.cancelTurn()
		a.coordinator.Enable(false)
		a.monitor.Stop()
		if busPlayback, ok := a.playback.(*BusPlayback); ok {
			if err := busPlayback.Close(); err != nil {
				logger.Warn("playback client stop failed", "error", err)
			}
		}
		if err := a.client.Stop(); err != nil {
			logger.Warn("bus client stop failed", "error", err)
		}
		logger.Info("assistant closed")
	})
}

// StartConversation opens (or resumes) a conversation and starts listening.
func (a *Assistant) StartConversation(conversationID string) (string, error) {
	id, err := a.manager.StartConversation(conversationID)
	if err != nil {
		return id, err
	}

	a.mu.Lock()
	a.conversationID = id
	a.mu.Unlock()
	return id, nil
}

// AddUserInput records one user utterance and launches response generation.
// An idle assistant implicitly resumes the most recent conversation first.
func (a *Assistant) AddUserInput(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if a.manager.State() == conversations.StateIdle {
		a.mu.Lock()
		id := a.conversationID
		a.mu.Unlock()

		if _, err := a.StartConversation(id); err != nil {
			return err
		}
	}

	if err := a.manager.AddUserInput(text); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(a.baseContext())
	a.mu.Lock()
	if a.turnCancel != nil {
		a.turnCancel()
	}
	a.turnCancel = cancel
	a.mu.Unlock()

	go a.respond(ctx, text)
	return nil
}

// UpdateResponse forwards an externally generated response fragment.
func (a *Assistant) UpdateResponse(text string, complete bool) error {
	return a.manager.UpdateResponse(text, complete)
}

// InterruptResponse applies barge-in: the in-flight response is abandoned,
// its partial text retained, and the assistant returns to listening.
func (a *Assistant) InterruptResponse() error {
	a.cancelTurn()
	return a.manager.InterruptResponse()
}

// Interrupt satisfies the transport control surface.
func (a *Assistant) Interrupt() error { return a.InterruptResponse() }

// Clear drops the conversation context and returns to idle.
func (a *Assistant) Clear() {
	a.cancelTurn()
	a.manager.Clear()

	a.mu.Lock()
	a.conversationID = ""
	a.mu.Unlock()
}

// ObserveAudioLevel feeds one input energy sample to the barge-in detector.
// It returns true when the sample fired an interrupt.
func (a *Assistant) ObserveAudioLevel(sample float64) bool {
	return a.coordinator.Observe(sample)
}

// State returns the current conversation state.
func (a *Assistant) State() conversations.State { return a.manager.State() }

// Snapshot returns a deep copy of the conversation.
func (a *Assistant) Snapshot() conversations.Snapshot { return a.manager.Snapshot() }

// HealthStatus reports service records and breaker states.
func (a *Assistant) HealthStatus() health.Status { return a.monitor.Status() }

// InterruptionStatus reports the barge-in detector state.
func (a *Assistant) InterruptionStatus() interruptions.Status { return a.coordinator.Status() }

func (a *Assistant) onUserInput(envelope events.Envelope) {
	input, ok := envelope.Payload.(events.UserInput)
	if !ok {
		return
	}
	if err := a.AddUserInput(input.Text); err != nil {
		logger.Warn("user input rejected", "source", envelope.Source, "error", err)
	}
}

// onBargeIn runs on the coordinator's detection path: redirect the
// conversation first, stop generation second. The playback handshake is the
// coordinator's job.
func (a *Assistant) onBargeIn() {
	a.cancelTurn()
	if err := a.manager.InterruptResponse(); err != nil {
		logger.Warn("barge-in had nothing to interrupt", "error", err)
	}
}

// respond runs one turn of response generation: breaker-gated knowledge
// lookup, breaker-gated streaming generation, and a degraded local response
// when the language model is unavailable.
func (a *Assistant) respond(ctx context.Context, input string) {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()

	request := Request{
		ConversationID: a.snapshotConversationID(),
		Input:          input,
		Tools:          a.Tools(),
	}
	if snapshot := a.manager.Snapshot(); snapshot.Context != nil {
		request.History = snapshot.Context.Turns
	}

	if a.rag != nil {
		err := a.monitor.Do(ctx, serviceRAG, func(ctx context.Context) error {
			knowledge, err := a.rag.Retrieve(ctx, input, knowledgeLimit)
			if err != nil {
				return err
			}
			request.Knowledge = knowledge
			return nil
		})
		if err != nil {
			// Best effort: answer without retrieved context.
			logger.Warn("knowledge lookup skipped", "error", err)
		}
	}

	response, err := a.generate(ctx, request)
	if errors.Is(err, context.Canceled) {
		// Interrupted mid-stream; the partial turn is already committed.
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("falling back to degraded response", "error", err)
		response = conversations.DegradedResponse(input, time.Now())
	}

	if err := a.manager.UpdateResponse(response, true); err != nil {
		logger.Info("response arrived after interruption, dropped", "error", err)
	}
}

// generate streams the language model's response through the conversation
// manager. Interruption cancels the stream without counting as a service
// failure.
func (a *Assistant) generate(ctx context.Context, request Request) (string, error) {
	if a.llm == nil {
		return "", errors.New("no language model configured")
	}

	var response string
	var interrupted atomic.Bool

	err := a.monitor.Do(ctx, serviceLLM, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var accumulated strings.Builder
		full, err := a.llm.Stream(ctx, request, func(delta string) {
			accumulated.WriteString(delta)
			if updateErr := a.manager.UpdateResponse(accumulated.String(), false); updateErr != nil {
				interrupted.Store(true)
				cancel()
			}
		})
		if interrupted.Load() {
			return nil
		}
		if err != nil {
			// Cancellation is an interruption or shutdown, not a service
			// failure; keep it off the breaker's ledger.
			if ctx.Err() != nil {
				interrupted.Store(true)
				return nil
			}
			return err
		}

		response = full
		return nil
	})
	if err != nil {
		return "", err
	}
	if interrupted.Load() {
		return "", context.Canceled
	}
	return response, nil
}

func (a *Assistant) emit(payload events.Payload) {
	if err := a.client.Send(payload); err != nil && !errors.Is(err, bus.ErrNotConnected) {
		logger.Warn("failed to publish event", "kind", payload.Kind(), "error", err)
	}
}

func (a *Assistant) cancelTurn() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.turnCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (a *Assistant) baseContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseCtx
}

func (a *Assistant) snapshotConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}
