package rtidispatch

import (
	"sync"

	"github.com/dkoosis/agentrt/internal/rtiwire"
)

// Broadcaster fans out envelopes to any number of subscribers. Go's
// standard library has no broadcast primitive, so this hand-rolls one:
// each subscriber gets its own bounded channel; a full subscriber channel
// is dropped from rather than blocking the dispatcher (lossy by design,
// per the concurrency model), and its per-subscriber dropped count is
// exposed so the prompt orchestrator can detect lag and fall back to
// thread/read.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]*subscription
	nextID      int
	noReceiver  uint64
}

type subscription struct {
	ch      chan *rtiwire.Envelope
	dropped uint64
}

// Subscription is the caller-facing handle returned by Subscribe.
type Subscription struct {
	id  int
	sub *subscription
	b   *Broadcaster
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]*subscription)}
}

// Subscribe registers a new subscriber with the given channel capacity.
func (b *Broadcaster) Subscribe(capacity int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan *rtiwire.Envelope, capacity)}
	b.subscribers[id] = sub
	return &Subscription{id: id, sub: sub, b: b}
}

// Recv returns the subscriber's channel.
func (s *Subscription) Recv() <-chan *rtiwire.Envelope { return s.sub.ch }

// Lagged reports how many envelopes this subscriber has missed due to a
// full channel.
func (s *Subscription) Lagged() uint64 { return s.sub.dropped }

// Unsubscribe removes this subscriber from the broadcaster.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subscribers, s.id)
}

// Publish sends env to every live subscriber in strict ingress order. A
// send that would block because a subscriber's channel is full is
// dropped (incrementing that subscriber's lag counter) rather than
// stalling the dispatcher. Publishing with zero subscribers increments
// NoReceiverCount rather than being treated as an error.
func (b *Broadcaster) Publish(env *rtiwire.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) == 0 {
		b.noReceiver++
		return
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- env:
		default:
			sub.dropped++
		}
	}
}

// NoReceiverCount reports how many envelopes were published while no
// subscriber existed.
func (b *Broadcaster) NoReceiverCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.noReceiver
}
