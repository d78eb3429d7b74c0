package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/macbot-ai/macbot-core/core/events"
)

// ErrNotConnected is returned by Send before Start has registered the client.
var ErrNotConnected = errors.New("client not connected to bus")

// DefaultStopTimeout bounds how long Stop waits for the consumption loop.
const DefaultStopTimeout = 5 * time.Second

// Handler consumes one inbound envelope. Handlers run on the client's
// consumption goroutine; panics are recovered and logged so one misbehaving
// handler cannot kill the loop.
type Handler func(envelope events.Envelope)

// Client adapts one service to the bus: it registers on Start, dispatches
// inbound envelopes to kind-keyed handlers on its own goroutine, and exposes
// a non-blocking Send.
type Client struct {
	bus         Bus
	clientID    string
	serviceType string
	stopTimeout time.Duration

	mu       sync.Mutex
	handlers map[events.Kind][]Handler
	sub      *Subscription
	started  bool
	loopDone chan struct{}
}

type ClientOption func(*Client)

// WithClientID overrides the generated client id.
func WithClientID(clientID string) ClientOption {
	return func(c *Client) { c.clientID = clientID }
}

// WithStopTimeout overrides the bounded join used by Stop.
func WithStopTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.stopTimeout = timeout
		}
	}
}

func NewClient(b Bus, serviceType string, opts ...ClientOption) *Client {
	c := &Client{
		bus:         b,
		serviceType: serviceType,
		stopTimeout: DefaultStopTimeout,
		handlers:    map[events.Kind][]Handler{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clientID == "" {
		c.clientID = fmt.Sprintf("%s_%d", serviceType, time.Now().UnixNano())
	}
	return c
}

// ClientID returns the id this client registers under.
func (c *Client) ClientID() string { return c.clientID }

// RegisterHandler binds a handler to an envelope kind. Multiple handlers per
// kind are allowed and run in registration order.
func (c *Client) RegisterHandler(kind events.Kind, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

// Start registers with the bus and launches the consumption loop. Calling
// Start on a started client is a no-op.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	sub, err := c.bus.Register(c.clientID, c.serviceType)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", c.clientID, err)
	}

	c.sub = sub
	c.started = true
	c.loopDone = make(chan struct{})
	go c.consume(sub, c.loopDone)

	logger.Info("bus client started", "client", c.clientID, "service", c.serviceType)
	return nil
}

// Send publishes a payload stamped with this client's id. It never blocks on
// slow subscribers; it fails only when the client is not started.
func (c *Client) Send(payload events.Payload, opts ...PublishOption) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		return ErrNotConnected
	}

	c.bus.Publish(events.New(c.clientID, payload), opts...)
	return nil
}

// Stop unregisters and joins the consumption loop. Unregistering closes the
// subscription queue, so the loop drains anything already queued before
// exiting; the join is bounded by the stop timeout.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.sub = nil
	loopDone := c.loopDone
	c.mu.Unlock()

	c.bus.Unregister(c.clientID)

	select {
	case <-loopDone:
	case <-time.After(c.stopTimeout):
		logger.Warn("consumption loop did not exit before timeout", "client", c.clientID)
		return fmt.Errorf("client %s: consumption loop join timed out", c.clientID)
	}

	logger.Info("bus client stopped", "client", c.clientID)
	return nil
}

func (c *Client) consume(sub *Subscription, done chan struct{}) {
	defer close(done)

	for envelope := range sub.Envelopes() {
		c.dispatch(envelope)
	}
}

func (c *Client) dispatch(envelope events.Envelope) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[envelope.Kind]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		c.invoke(handler, envelope)
	}
}

func (c *Client) invoke(handler Handler, envelope events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				"client", c.clientID, "kind", envelope.Kind, "panic", fmt.Sprint(r))
		}
	}()

	handler(envelope)
}
