package apiclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RequestMeta describes a request being registered.
type RequestMeta struct {
	Method string
	URL    string
	// Cancel aborts the underlying transport call.
	Cancel context.CancelFunc
}

// RequestRecord is one tracked in-flight request.
type RequestRecord struct {
	ID        string
	Method    string
	URL       string
	StartedAt time.Time

	cancel   context.CancelFunc
	watchdog *time.Timer
}

// RequestInfo is a plain-data copy of a RequestRecord.
type RequestInfo struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"startedAt"`
}

// Outcome summarizes how a request completed.
type Outcome struct {
	OK     bool
	Status int
	Err    error
}

// Registry tracks in-flight requests by id and publishes their lifecycle.
type Registry struct {
	mu        sync.Mutex
	records   map[string]*RequestRecord
	emitter   *Emitter
	threshold time.Duration
	logger    *zap.Logger
}

// NewRegistry creates a Registry whose watchdog fires after threshold.
func NewRegistry(emitter *Emitter, threshold time.Duration, logger *zap.Logger) *Registry {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = NewEmitter(logger)
	}
	return &Registry{
		records:   make(map[string]*RequestRecord),
		emitter:   emitter,
		threshold: threshold,
		logger:    logger,
	}
}

// Register stores a record for id, emits start and arms the watchdog.
func (r *Registry) Register(id string, meta RequestMeta) (*RequestRecord, error) {
	rec := &RequestRecord{
		ID:        id,
		Method:    meta.Method,
		URL:       meta.URL,
		StartedAt: time.Now(),
		cancel:    meta.Cancel,
	}

	r.mu.Lock()
	if _, exists := r.records[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequestID, id)
	}
	r.records[id] = rec
	r.mu.Unlock()

	r.emitter.Emit(Event{
		Kind:      EventStart,
		ID:        id,
		Method:    rec.Method,
		URL:       rec.URL,
		StartedAt: rec.StartedAt,
	})

	// Armed after start so slow can never precede it.
	r.mu.Lock()
	if r.records[id] == rec {
		rec.watchdog = time.AfterFunc(r.threshold, func() { r.fireSlow(id, rec) })
	}
	r.mu.Unlock()

	return rec, nil
}

func (r *Registry) fireSlow(id string, rec *RequestRecord) {
	r.mu.Lock()
	current := r.records[id]
	r.mu.Unlock()
	if current != rec {
		return
	}

	elapsed := time.Since(rec.StartedAt)
	r.logger.Warn("slow request",
		zap.String("req_id", id),
		zap.String("method", rec.Method),
		zap.String("url", rec.URL),
		zap.Duration("elapsed", elapsed),
	)
	r.emitter.Emit(Event{
		Kind:      EventSlow,
		ID:        id,
		Method:    rec.Method,
		URL:       rec.URL,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// Complete removes the record, stops its watchdog and emits stop.
// It reports false, and emits nothing, when id is not tracked, which is
// expected after CancelAll.
func (r *Registry) Complete(id string, out Outcome) (time.Duration, bool) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
		if rec.watchdog != nil {
			rec.watchdog.Stop()
		}
	}
	r.mu.Unlock()
	if !ok {
		return 0, false
	}

	elapsed := time.Since(rec.StartedAt)
	ev := Event{
		Kind:      EventStop,
		ID:        id,
		Method:    rec.Method,
		URL:       rec.URL,
		ElapsedMs: elapsed.Milliseconds(),
		OK:        out.OK,
		Status:    out.Status,
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	r.emitter.Emit(ev)
	return elapsed, true
}

// CancelAll aborts and forgets every tracked request, then emits a single flush.
// It returns the number of requests cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	records := r.records
	r.records = make(map[string]*RequestRecord)
	for _, rec := range records {
		if rec.watchdog != nil {
			rec.watchdog.Stop()
		}
		if rec.cancel != nil {
			rec.cancel()
		}
	}
	r.mu.Unlock()

	n := len(records)
	if n > 0 {
		r.logger.Info("cancelled in-flight requests", zap.Int("count", n))
	}
	r.emitter.Emit(Event{Kind: EventFlush, Count: n})
	return n
}

// Len returns the number of tracked requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Snapshot returns the tracked requests ordered by start time.
func (r *Registry) Snapshot() []RequestInfo {
	r.mu.Lock()
	out := make([]RequestInfo, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, RequestInfo{
			ID:        rec.ID,
			Method:    rec.Method,
			URL:       rec.URL,
			StartedAt: rec.StartedAt,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
