package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/macbot-ai/macbot-core/core/events"
)

// DefaultQueueCapacity bounds each subscriber queue unless overridden.
const DefaultQueueCapacity = 1000

// ErrDuplicateClient is returned by Register when the client id is already
// active on the broker.
var ErrDuplicateClient = errors.New("client id already registered")

// Bus is the broker contract. It is deliberately minimal so a networked
// broker could implement it behind the same callers.
type Bus interface {
	Register(clientID, serviceType string) (*Subscription, error)
	Publish(envelope events.Envelope, opts ...PublishOption)
	Unregister(clientID string)
}

// Subscription is one subscriber's bounded queue plus delivery counters.
// It is created by Register and closed by Unregister; after close the
// consumer drains whatever was already queued and observes channel closure.
type Subscription struct {
	clientID    string
	serviceType string
	queue       chan events.Envelope

	delivered atomic.Uint64
	dropped   atomic.Uint64

	registeredAt time.Time
	lastSeen     atomic.Int64
}

func (s *Subscription) ClientID() string    { return s.clientID }
func (s *Subscription) ServiceType() string { return s.serviceType }

// Envelopes is the receive side of the subscriber queue. Delivery order per
// publisher equals publish order.
func (s *Subscription) Envelopes() <-chan events.Envelope { return s.queue }

// Delivered reports how many envelopes were accepted onto the queue.
func (s *Subscription) Delivered() uint64 { return s.delivered.Load() }

// Dropped reports how many envelopes were discarded because the queue was
// full at publish time.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// LastSeen is the last time this client published anything.
func (s *Subscription) LastSeen() time.Time {
	if ns := s.lastSeen.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return s.registeredAt
}

// Broker is the process-wide broker. The zero value is not usable; construct
// with NewBroker.
type Broker struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	capacity int
}

type BrokerOption func(*Broker)

// WithQueueCapacity overrides the per-subscriber queue bound.
func WithQueueCapacity(capacity int) BrokerOption {
	return func(b *Broker) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subs:     map[string]*Subscription{},
		capacity: DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a subscriber and returns its subscription. Registration after
// a publish does not receive that publish retroactively.
func (b *Broker) Register(clientID, serviceType string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[clientID]; ok {
		return nil, ErrDuplicateClient
	}

	sub := &Subscription{
		clientID:     clientID,
		serviceType:  serviceType,
		queue:        make(chan events.Envelope, b.capacity),
		registeredAt: time.Now(),
	}
	b.subs[clientID] = sub
	logger.Info("client registered", "client", clientID, "service", serviceType)
	return sub, nil
}

// Unregister removes the subscription and closes its queue. Envelopes already
// queued remain readable so a consuming loop can drain before exiting.
func (b *Broker) Unregister(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[clientID]
	if !ok {
		return
	}
	delete(b.subs, clientID)
	close(sub.queue)
	logger.Info("client unregistered", "client", clientID, "pending", len(sub.queue))
}

type publishOptions struct {
	toClient  string
	toService string
}

type PublishOption func(*publishOptions)

// ToClient restricts delivery to a single client id.
func ToClient(clientID string) PublishOption {
	return func(o *publishOptions) { o.toClient = clientID }
}

// ToService restricts delivery to every client of one service type.
func ToService(serviceType string) PublishOption {
	return func(o *publishOptions) { o.toService = serviceType }
}

// Publish fans the envelope out to every matching subscriber registered right
// now, except the originator. It never blocks: a full subscriber queue drops
// this envelope for that subscriber and bumps its drop counter.
func (b *Broker) Publish(envelope events.Envelope, opts ...PublishOption) {
	options := publishOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if origin, ok := b.subs[envelope.Source]; ok {
		origin.lastSeen.Store(envelope.Timestamp.UnixNano())
	}

	matched := false
	for clientID, sub := range b.subs {
		if clientID == envelope.Source {
			continue
		}
		if options.toClient != "" && clientID != options.toClient {
			continue
		}
		if options.toService != "" && sub.serviceType != options.toService {
			continue
		}
		matched = true

		select {
		case sub.queue <- envelope:
			sub.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			logger.Warn("subscriber queue full, envelope dropped",
				"client", clientID, "kind", envelope.Kind, "dropped", sub.dropped.Load())
		}
	}

	if !matched && options.toService != "" {
		logger.Warn("no clients for service type", "service", options.toService)
	}
}

// ServiceInfo summarizes the registered clients of one service type.
type ServiceInfo struct {
	Count    int
	Clients  []string
	LastSeen time.Time
}

// ServiceStatus reports registered clients grouped by service type.
func (b *Broker) ServiceStatus() map[string]ServiceInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := map[string]ServiceInfo{}
	for clientID, sub := range b.subs {
		info := status[sub.serviceType]
		info.Count++
		info.Clients = append(info.Clients, clientID)
		if seen := sub.LastSeen(); seen.After(info.LastSeen) {
			info.LastSeen = seen
		}
		status[sub.serviceType] = info
	}
	return status
}
