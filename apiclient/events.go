package apiclient

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	EventStart     EventKind = "http:start"
	EventSlow      EventKind = "http:slow"
	EventStop      EventKind = "http:stop"
	EventFlush     EventKind = "http:flush"
	EventRefresh   EventKind = "auth:refresh"
	EventRefreshed EventKind = "auth:refreshed"
	EventLogout    EventKind = "auth:logout"
)

// Event is the plain-data detail published for every lifecycle transition.
// It never carries live handles so it can be serialized as-is.
type Event struct {
	Kind      EventKind `json:"kind"`
	ID        string    `json:"id,omitempty"`
	Method    string    `json:"method,omitempty"`
	URL       string    `json:"url,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	ElapsedMs int64     `json:"elapsedMs,omitempty"`
	OK        bool      `json:"ok,omitempty"`
	Status    int       `json:"status,omitempty"`
	// Count is the number of requests aborted by a flush.
	Count int       `json:"count,omitempty"`
	Error string    `json:"error,omitempty"`
	TS    time.Time `json:"ts"`
}

// Elapsed returns ElapsedMs as a duration.
func (e Event) Elapsed() time.Duration {
	return time.Duration(e.ElapsedMs) * time.Millisecond
}

// Subscriber receives events. It is called on the emitting goroutine.
type Subscriber func(Event)

type subscription struct {
	id int
	fn Subscriber
}

// Emitter is an in-process publish/subscribe channel for lifecycle events.
// A panicking subscriber is logged and skipped; the remaining subscribers
// still receive the event.
type Emitter struct {
	mu      sync.RWMutex
	nextID  int
	subs    []subscription
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewEmitter creates an Emitter. A nil logger disables panic logging.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
func (e *Emitter) Subscribe(fn Subscriber) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.mu.Unlock()

	return sync.OnceFunc(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	})
}

// Channel returns a buffered channel fed with every event. When the buffer is
// full the event is dropped for this subscriber and counted in Dropped.
// The returned cancel function unsubscribes and closes the channel.
func (e *Emitter) Channel(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	})
	return ch, sync.OnceFunc(func() {
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	})
}

// Emit delivers ev to every current subscriber in subscription order.
func (e *Emitter) Emit(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}

	e.mu.RLock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		e.deliver(s.fn, ev)
	}
}

// Dropped returns the number of events dropped by full channel subscribers.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// reset removes every subscriber.
func (e *Emitter) reset() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}

func (e *Emitter) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			e.logger.Error("lifecycle subscriber panicked",
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r),
				zap.String("stack", string(buf[:n])),
			)
		}
	}()
	fn(ev)
}
