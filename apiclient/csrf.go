package apiclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const csrfFlightKey = "csrf"

// CSRFGate caches the CSRF token and fetches it at most once concurrently.
type CSRFGate struct {
	mu      sync.Mutex
	token   string
	group   singleflight.Group
	fetch   func(ctx context.Context) (string, error)
	timeout time.Duration
	logger  *zap.Logger
}

// NewCSRFGate creates a gate that obtains tokens with fetch.
func NewCSRFGate(
	fetch func(ctx context.Context) (string, error),
	timeout time.Duration,
	logger *zap.Logger,
) *CSRFGate {
	if timeout <= 0 {
		timeout = DefaultCSRFTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSRFGate{fetch: fetch, timeout: timeout, logger: logger}
}

// Token returns the cached token or joins the single pending fetch.
// A failed fetch is not cached, so the next caller starts a new one.
func (g *CSRFGate) Token(ctx context.Context) (string, error) {
	if tok := g.Cached(); tok != "" {
		return tok, nil
	}

	ch := g.group.DoChan(csrfFlightKey, func() (any, error) {
		// A fetch may have finished between the cache check and joining the group.
		if tok := g.Cached(); tok != "" {
			return tok, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		tok, err := g.fetch(fetchCtx)
		if err != nil {
			return "", err
		}

		g.mu.Lock()
		g.token = tok
		g.mu.Unlock()
		g.logger.Debug("csrf token fetched")
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cached returns the cached token without fetching.
func (g *CSRFGate) Cached() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// Invalidate forgets the cached token.
func (g *CSRFGate) Invalidate() {
	g.mu.Lock()
	g.token = ""
	g.mu.Unlock()
}
