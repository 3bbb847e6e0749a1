package events

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// Bus is the central event bus. Subscriptions are keyed by Go type rather
// than a string tag: Subscribe[T] matches any published event whose
// concrete type is T, or — when T is itself an interface such as
// UpgradeEvent or ApCfgEvent — any published event whose concrete type
// implements T. A single Publish call may therefore fan out to both a
// concrete-type subscriber and an ancestor-interface subscriber.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription

	published uint64
	dropped   uint64
}

// subscription holds the non-blocking delivery closure for one Subscribe
// call. deliver reports whether e matched this subscription's type and,
// if so, whether the send succeeded (false means the subscriber's buffer
// was full and the event was dropped for it).
type subscription struct {
	typ     reflect.Type
	deliver func(Event) (matched, sent bool)
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Publish broadcasts e to every subscription whose type matches e, either
// by exact concrete type or by declared interface ancestry. Delivery is
// non-blocking per subscriber: a full subscriber channel drops the event
// for that subscriber only and increments the bus-wide drop counter.
func (b *Bus) Publish(e Event) {
	e.setOccurredAt(timeNow())

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	b.mu.Lock()
	b.published++
	b.mu.Unlock()

	for _, s := range subs {
		matched, sent := s.deliver(e)
		if matched && !sent {
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	}
}

// Stats returns publish/drop counts for monitoring.
func (b *Bus) Stats() (published, dropped uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published, b.dropped
}

func (b *Bus) add(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, existing := range b.subs {
		if existing != s {
			out = append(out, existing)
		}
	}
	b.subs = out
}

// timeNow is a var so tests can freeze it; production code never needs to.
var timeNow = func() time.Time { return time.Now() }

// Subscribe registers for every published event whose concrete type is T
// (or, when T is an interface, every event that implements T). The
// returned channel is buffered to bufSize (256 if <= 0); the caller must
// drain it or risk dropped events. Call the returned cancel func to
// unsubscribe; it does not close the channel.
func Subscribe[T Event](b *Bus, bufSize int) (<-chan T, func()) {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan T, bufSize)
	s := &subscription{
		typ: reflect.TypeOf((*T)(nil)).Elem(),
		deliver: func(e Event) (matched, sent bool) {
			v, ok := e.(T)
			if !ok {
				return false, false
			}
			select {
			case ch <- v:
				return true, true
			default:
				return true, false
			}
		},
	}
	b.add(s)
	return ch, func() { b.remove(s) }
}

// AwaitOne blocks until an event matching T (and, if pred is non-nil,
// satisfying pred) is published, or ctx is done. It auto-unsubscribes
// before returning either way, so it never leaks a registration.
func AwaitOne[T Event](ctx context.Context, b *Bus, pred func(T) bool) (T, error) {
	ch, cancel := Subscribe[T](b, 0)
	defer cancel()

	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case v := <-ch:
			if pred == nil || pred(v) {
				return v, nil
			}
		}
	}
}
