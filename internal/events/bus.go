package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultBuffer = 256

// Bus fans events out to typed subscriptions. Publish never blocks.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind]map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

// Subscription receives events of the kinds it asked for, in publish order.
type Subscription struct {
	id    uint64
	bus   *Bus
	kinds []Kind
	ch    chan Event

	once sync.Once
	mu   sync.Mutex
	err  error
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[Kind]map[uint64]*Subscription),
	}
}

// Subscribe registers for the given kinds. A buffer <= 0 uses the default.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (*Subscription, error) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	if len(kinds) == 0 {
		kinds = AllKinds()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	sub := &Subscription{
		id:    b.nextID,
		bus:   b,
		kinds: kinds,
		ch:    make(chan Event, buffer),
	}

	for _, k := range kinds {
		if b.subs[k] == nil {
			b.subs[k] = make(map[uint64]*Subscription)
		}
		b.subs[k][sub.id] = sub
	}

	return sub, nil
}

// Publish delivers e to every subscriber of its kind without blocking.
// Lossy events are dropped for full subscribers; a full subscriber on a
// reliable event is closed with ErrSlowSubscriber.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var slow []*Subscription

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	for _, sub := range b.subs[e.Kind] {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			if !e.Kind.Lossy() {
				slow = append(slow, sub)
			}
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		sub.close(ErrSlowSubscriber)
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	all := make(map[uint64]*Subscription)
	for _, subs := range b.subs {
		for id, sub := range subs {
			all[id] = sub
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.close(ErrBusClosed)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range sub.kinds {
		delete(b.subs[k], sub.id)
		if len(b.subs[k]) == 0 {
			delete(b.subs, k)
		}
	}
}

// C is closed when the subscription ends; check Err afterwards.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Err returns why the subscription ended, or nil while it is open
// or after a plain Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.close(nil)
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		s.bus.remove(s)
		close(s.ch)
	})
}
