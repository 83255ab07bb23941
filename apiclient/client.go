package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Headers injected on outgoing requests.
const (
	HeaderRequestID = "X-Req-Id"
	HeaderCSRF      = "X-CSRF-Token"
)

// Navigator moves the application to another view.
type Navigator interface {
	Location() string
	Navigate(path string)
}

// Request describes one API call. URL is either absolute or a path joined to
// the client's base URL. Internal requests skip tracking, CSRF and refresh handling.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Internal bool
}

// NewRequest builds a Request whose body is body encoded as JSON. A nil body sends none.
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, URL: path, Header: make(http.Header)}
	if body == nil {
		return req, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req.Body = data
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Response is a completed 2xx response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Client is the entry point for API calls. It tracks every non-internal
// request, injects credentials and recovers expired sessions with a single
// shared refresh.
type Client struct {
	cfg         Config
	doer        Doer
	logger      *zap.Logger
	emitter     *Emitter
	ownsEmitter bool
	registry    *Registry
	tokens      *TokenStore
	csrf        *CSRFGate
	refresh     *RefreshCoordinator
	classifier  classifier
	navigator   Navigator
	closed      atomic.Bool
	newID       func() string
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if err := ValidateServerURL(baseURL); err != nil {
		return nil, err
	}

	o := &options{cfg: DefaultConfig(strings.TrimRight(baseURL, "/"))}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	doer := o.doer
	if doer == nil {
		var err error
		if doer, err = newTransport(o.httpClient, o.cfg.MaxRetries); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:        o.cfg,
		doer:       doer,
		logger:     o.logger,
		emitter:    o.emitter,
		classifier: newClassifier(o.cfg.AuthCodes),
		navigator:  o.navigator,
		newID:      uuid.NewString,
	}
	if c.emitter == nil {
		c.emitter = NewEmitter(c.logger)
		c.ownsEmitter = true
	}
	c.registry = NewRegistry(c.emitter, o.cfg.SlowThreshold, c.logger)
	c.tokens = NewTokenStore(o.mirror, c.logger)
	c.csrf = NewCSRFGate(c.fetchCSRFToken, o.cfg.CSRFTimeout, c.logger)
	c.refresh = NewRefreshCoordinator(
		c.refreshSession,
		c.expireSession,
		o.cfg.RefreshTimeout,
		c.emitter,
		c.logger,
	)
	return c, nil
}

// ValidateServerURL checks that rawURL is an absolute http(s) URL.
func ValidateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Events returns the lifecycle emitter.
func (c *Client) Events() *Emitter { return c.emitter }

// Registry returns the in-flight request registry.
func (c *Client) Registry() *Registry { return c.registry }

// Tokens returns the access token store.
func (c *Client) Tokens() *TokenStore { return c.tokens }

// CSRF returns the CSRF gate.
func (c *Client) CSRF() *CSRFGate { return c.csrf }

// Refresher returns the session refresh coordinator.
func (c *Client) Refresher() *RefreshCoordinator { return c.refresh }

// Do is a shorthand for NewRequest followed by Send.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := NewRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

// Send issues req. A response rejected because the session expired is
// retried once after a refresh; every other failure is returned unchanged.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	return c.send(ctx, req, nil, false)
}

func (c *Client) send(
	ctx context.Context,
	req *Request,
	token *oauth2.Token,
	retried bool,
) (*Response, error) {
	resp, err := c.dispatch(ctx, req, token)
	if err == nil || req.Internal {
		return resp, err
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !c.classifier.isAuthFailure(httpErr) {
		return nil, err
	}
	if isPublicPath(req.URL, c.cfg.PublicPaths) {
		return nil, err
	}
	if retried {
		c.logger.Warn("authorization rejected after refresh",
			zap.String("method", httpErr.Method),
			zap.String("url", httpErr.URL),
			zap.Int("status", httpErr.StatusCode),
		)
		return nil, err
	}

	// The session was already renewed while this request was in flight.
	if current, _ := c.tokens.Token(); current != nil && current.AccessToken != httpErr.sentToken {
		return c.send(ctx, req, current, true)
	}

	fresh, err := c.refresh.Await(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, fresh, true)
}

// dispatch performs one transport round trip. token overrides the stored
// token for the Authorization header.
func (c *Client) dispatch(ctx context.Context, req *Request, token *oauth2.Token) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req.URL)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	var (
		id      string
		outcome Outcome
	)
	if !req.Internal {
		id = c.newID()
		if _, err := c.registry.Register(id, RequestMeta{
			Method: method,
			URL:    target,
			Cancel: cancel,
		}); err != nil {
			return nil, err
		}
		defer func() { c.registry.Complete(id, outcome) }()
		httpReq.Header.Set(HeaderRequestID, id)
	}

	sentToken := c.authorize(httpReq, target, token)

	if !req.Internal && isMutating(method) {
		csrfToken, err := c.csrf.Token(reqCtx)
		if err != nil {
			c.logger.Warn("csrf token unavailable, sending without it",
				zap.String("req_id", id),
				zap.Error(err),
			)
		} else {
			httpReq.Header.Set(HeaderCSRF, csrfToken)
		}
	}

	c.logger.Debug("sending request",
		zap.String("req_id", id),
		zap.String("method", method),
		zap.String("url", target),
		zap.Bool("internal", req.Internal),
	)

	resp, err := c.doer.Do(reqCtx, httpReq)
	if err != nil {
		terr := c.transportError(reqCtx, method, target, err)
		outcome.Err = terr
		return nil, terr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		terr := c.transportError(reqCtx, method, target, err)
		outcome.Err = terr
		return nil, terr
	}

	outcome.Status = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.OK = true
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
			RequestID:  id,
		}, nil
	}

	message, code := parseErrorBody(data)
	httpErr := &HTTPError{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Body:       data,
		sentToken:  sentToken,
	}
	outcome.Err = httpErr
	return nil, httpErr
}

// transportError prefers the context's error so cancellation is recognizable with errors.Is.
func (c *Client) transportError(ctx context.Context, method, target string, err error) *TransportError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &TransportError{Method: method, URL: target, Err: err}
}

// authorize sets the bearer header and returns the access token it used.
func (c *Client) authorize(req *http.Request, target string, token *oauth2.Token) string {
	if isPublicPath(target, c.cfg.PublicPaths) {
		req.Header.Del("Authorization")
		return ""
	}
	if token == nil {
		token, _ = c.tokens.Token()
	}
	if token == nil || token.AccessToken == "" {
		return ""
	}
	token.SetAuthHeader(req)
	return token.AccessToken
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.cfg.BaseURL + path
}

// CancelAll aborts every tracked request and returns how many were aborted.
func (c *Client) CancelAll() int {
	return c.registry.CancelAll()
}

// Logout clears credentials everywhere and abandons in-flight work.
func (c *Client) Logout() error {
	err := c.tokens.Clear()
	c.csrf.Invalidate()
	c.CancelAll()
	c.emitter.Emit(Event{Kind: EventLogout})
	if err != nil {
		return fmt.Errorf("failed to clear stored token: %w", err)
	}
	return nil
}

// Close cancels in-flight requests and rejects further Sends.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.CancelAll()
	if c.ownsEmitter {
		c.emitter.reset()
	}
}

type refreshResponse struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user,omitempty"`
}

// refreshSession calls the refresh endpoint and stores the new token.
func (c *Client) refreshSession(ctx context.Context) (*oauth2.Token, error) {
	resp, err := c.dispatch(ctx, &Request{
		Method:   http.MethodGet,
		URL:      c.cfg.RefreshPath,
		Internal: true,
	}, nil)
	if err != nil {
		return nil, err
	}

	var body refreshResponse
	if err := resp.JSON(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshResponse, err)
	}
	if err := validateRefreshToken(body.Token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshResponse, err)
	}

	var user any
	if len(body.User) > 0 {
		if err := json.Unmarshal(body.User, &user); err != nil {
			c.logger.Warn("ignoring malformed user in refresh response", zap.Error(err))
		}
	}

	tok := NewToken(body.Token, user)
	if err := c.tokens.Set(tok); err != nil {
		c.logger.Warn("failed to persist refreshed token", zap.Error(err))
	}
	return tok, nil
}

// validateRefreshToken rejects obviously unusable tokens.
func validateRefreshToken(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	if len(token) < 10 {
		return fmt.Errorf("token is too short (length: %d)", len(token))
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return errors.New("token contains whitespace")
	}
	return nil
}

// expireSession runs after a failed refresh: credentials are dropped and the
// user is sent to the login view unless already there.
func (c *Client) expireSession(cause error) {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Warn("failed to clear stored token", zap.Error(err))
	}
	c.csrf.Invalidate()
	c.emitter.Emit(Event{Kind: EventLogout, Error: cause.Error()})

	if c.navigator == nil {
		return
	}
	if strings.HasPrefix(c.navigator.Location(), c.cfg.LoginPath) {
		return
	}
	c.navigator.Navigate(c.cfg.LoginPath)
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	resp, err := c.dispatch(ctx, &Request{
		Method:   http.MethodGet,
		URL:      c.cfg.CSRFPath,
		Internal: true,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("csrf fetch failed: %w", err)
	}

	var body csrfResponse
	if err := resp.JSON(&body); err != nil {
		return "", err
	}
	if body.CSRFToken == "" {
		return "", errors.New("csrf response has no token")
	}
	return body.CSRFToken, nil
}
