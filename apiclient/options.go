package apiclient

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Default endpoint paths and thresholds.
const (
	DefaultRefreshPath    = "/users/refresh-token"
	DefaultCSRFPath       = "/csrf-token"
	DefaultLoginPath      = "/login"
	DefaultSlowThreshold  = 15 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
	DefaultCSRFTimeout    = 10 * time.Second
)

// DefaultPublicPaths lists URL substrings that never carry an Authorization header.
var DefaultPublicPaths = []string{
	"/login",
	"/register",
	"/refresh-token",
	"/forgot-password",
	"/reset-password",
	"/verify",
	"/resend-verification",
}

// DefaultAuthCodes lists structured error codes that mark an authorization failure
// independently of the message text.
var DefaultAuthCodes = []string{"TOKEN_EXPIRED", "TOKEN_INVALID", "JWT_EXPIRED"}

// Config holds the tunables of a Client.
type Config struct {
	BaseURL        string
	RefreshPath    string
	CSRFPath       string
	LoginPath      string
	SlowThreshold  time.Duration
	RefreshTimeout time.Duration
	CSRFTimeout    time.Duration
	PublicPaths    []string
	AuthCodes      []string
	// MaxRetries is the number of transport-level retries for network failures.
	MaxRetries int
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RefreshPath:    DefaultRefreshPath,
		CSRFPath:       DefaultCSRFPath,
		LoginPath:      DefaultLoginPath,
		SlowThreshold:  DefaultSlowThreshold,
		RefreshTimeout: DefaultRefreshTimeout,
		CSRFTimeout:    DefaultCSRFTimeout,
		PublicPaths:    append([]string(nil), DefaultPublicPaths...),
		AuthCodes:      append([]string(nil), DefaultAuthCodes...),
	}
}

type options struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client
	doer       Doer
	navigator  Navigator
	mirror     Mirror
	emitter    *Emitter
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the diagnostic logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient sets the base http.Client wrapped by the default transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDoer replaces the transport entirely.
func WithDoer(d Doer) Option {
	return func(o *options) { o.doer = d }
}

// WithNavigator sets the handler used to redirect to the login view after a failed refresh.
func WithNavigator(n Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithMirror sets the durable token mirror kept in sync with the in-memory store.
func WithMirror(m Mirror) Option {
	return func(o *options) { o.mirror = m }
}

// WithEmitter shares an existing emitter instead of creating a new one.
func WithEmitter(e *Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithSlowThreshold sets how long a request may run before a slow event fires.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cfg.SlowThreshold = d
		}
	}
}

// WithRefreshTimeout bounds the refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cfg.RefreshTimeout = d
		}
	}
}

// WithEndpoints overrides the refresh, CSRF and login paths. Empty values keep the default.
func WithEndpoints(refreshPath, csrfPath, loginPath string) Option {
	return func(o *options) {
		if refreshPath != "" {
			o.cfg.RefreshPath = refreshPath
		}
		if csrfPath != "" {
			o.cfg.CSRFPath = csrfPath
		}
		if loginPath != "" {
			o.cfg.LoginPath = loginPath
		}
	}
}

// WithPublicPaths replaces the public-path allowlist.
func WithPublicPaths(paths ...string) Option {
	return func(o *options) { o.cfg.PublicPaths = paths }
}

// WithAuthCodes replaces the structured authorization error codes.
func WithAuthCodes(codes ...string) Option {
	return func(o *options) { o.cfg.AuthCodes = codes }
}

// WithMaxRetries enables transport-level retries of network failures.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.cfg.MaxRetries = n
		}
	}
}
