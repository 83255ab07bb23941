package apiclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type refreshResult struct {
	token *oauth2.Token
	err   error
}

// RefreshCoordinator performs at most one session refresh at a time. The
// first caller of a cycle drives the refresh; callers arriving while it is
// in flight wait for the same outcome.
type RefreshCoordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult

	refresh   func(ctx context.Context) (*oauth2.Token, error)
	onFailure func(err error)
	timeout   time.Duration
	emitter   *Emitter
	logger    *zap.Logger
}

// NewRefreshCoordinator creates a coordinator. refresh must persist the new
// token before returning; onFailure runs once per failed cycle after all
// waiters have been rejected.
func NewRefreshCoordinator(
	refresh func(ctx context.Context) (*oauth2.Token, error),
	onFailure func(err error),
	timeout time.Duration,
	emitter *Emitter,
	logger *zap.Logger,
) *RefreshCoordinator {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = NewEmitter(logger)
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}
	return &RefreshCoordinator{
		refresh:   refresh,
		onFailure: onFailure,
		timeout:   timeout,
		emitter:   emitter,
		logger:    logger,
	}
}

// Await returns a fresh token, starting a refresh if none is in flight.
// Failures wrap ErrRefreshFailed.
func (c *RefreshCoordinator) Await(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	if c.inFlight {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		n := len(c.waiters)
		c.mu.Unlock()

		c.logger.Debug("waiting for in-flight refresh", zap.Int("waiters", n))
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.inFlight = true
	c.mu.Unlock()

	return c.drive(ctx)
}

// drive runs one refresh cycle. The call is detached from the caller's
// cancellation so the cycle always resolves.
func (c *RefreshCoordinator) drive(ctx context.Context) (*oauth2.Token, error) {
	c.logger.Info("refreshing session")
	c.emitter.Emit(Event{Kind: EventRefresh})
	start := time.Now()

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	tok, err := c.refresh(refreshCtx)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	c.mu.Lock()
	waiters := c.waiters
	for _, w := range waiters {
		w <- refreshResult{token: tok, err: err}
	}
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn("session refresh failed",
			zap.Error(err),
			zap.Int("waiters", len(waiters)),
			zap.Duration("elapsed", elapsed),
		)
		c.emitter.Emit(Event{
			Kind:      EventRefreshed,
			ElapsedMs: elapsed.Milliseconds(),
			Error:     err.Error(),
		})
		c.onFailure(err)
		return nil, err
	}

	c.logger.Info("session refreshed",
		zap.Int("waiters", len(waiters)),
		zap.Duration("elapsed", elapsed),
	)
	c.emitter.Emit(Event{Kind: EventRefreshed, ElapsedMs: elapsed.Milliseconds(), OK: true})
	return tok, nil
}

// InFlight reports whether a refresh is outstanding.
func (c *RefreshCoordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Waiting returns the number of callers blocked on the current refresh.
func (c *RefreshCoordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
