package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/storefront-cli/apiclient"
	"github.com/go-authgate/storefront-cli/metrics"
	"github.com/go-authgate/storefront-cli/tui"
)

var (
	serverURL         string
	tokenFile         string
	slowThreshold     time.Duration
	metricsAddr       string
	debug             bool
	logout            bool
	flagServerURL     *string
	flagTokenFile     *string
	flagSlowThreshold *string
	flagMetricsAddr   *string
	flagDebug         *bool
	flagLogout        *bool
	configInitialized bool
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultTokenFile = ".storefront-tokens.json"
	loginPath        = "/users/login"
	maxBodyPreview   = 2000
)

var (
	errNoRequests     = errors.New("no request lines given")
	errRequestsFailed = errors.New("one or more requests failed")
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"API base URL (default: http://localhost:8080 or SERVER_URL env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Session storage file (default: .storefront-tokens.json or TOKEN_FILE env)",
	)
	flagSlowThreshold = flag.String(
		"slow-threshold",
		"",
		"Report requests slower than this (default: 15s or SLOW_THRESHOLD env)",
	)
	flagMetricsAddr = flag.String(
		"metrics-addr",
		"",
		"Serve Prometheus metrics on this address, e.g. :9090 (or METRICS_ADDR env)",
	)
	flagDebug = flag.Bool("debug", false, "Enable development logging on stderr")
	flagLogout = flag.Bool("logout", false, "Discard the stored session and exit")
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] \"METHOD PATH [JSON-BODY]\"...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Priority: flag > env > default
	serverURL = getConfig(*flagServerURL, "SERVER_URL", defaultServerURL)
	tokenFile = getConfig(*flagTokenFile, "TOKEN_FILE", defaultTokenFile)
	metricsAddr = getConfig(*flagMetricsAddr, "METRICS_ADDR", "")
	debug = *flagDebug
	logout = *flagLogout

	var err error
	slowThreshold, err = parseThreshold(getConfig(*flagSlowThreshold, "SLOW_THRESHOLD", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid SLOW_THRESHOLD: %v\n", err)
		os.Exit(1)
	}

	if err := apiclient.ValidateServerURL(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid SERVER_URL: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseThreshold accepts a Go duration or a bare number of milliseconds.
// An empty value selects the client default.
func parseThreshold(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apiclient.DefaultSlowThreshold, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		ms, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d <= 0 {
		return 0, fmt.Errorf("threshold must be positive, got %s", d)
	}
	return d, nil
}

// requestLine is one "METHOD PATH [JSON-BODY]" argument.
type requestLine struct {
	raw    string
	method string
	path   string
	body   json.RawMessage
}

func parseRequestLine(raw string) (requestLine, error) {
	raw = strings.TrimSpace(raw)
	method, rest, _ := strings.Cut(raw, " ")
	rest = strings.TrimSpace(rest)
	path, body, _ := strings.Cut(rest, " ")
	body = strings.TrimSpace(body)

	if method == "" || path == "" {
		return requestLine{}, fmt.Errorf("request %q must look like \"METHOD PATH [JSON-BODY]\"", raw)
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return requestLine{}, fmt.Errorf("unsupported method %q", method)
	}
	if !strings.HasPrefix(path, "/") && !strings.Contains(path, "://") {
		path = "/" + path
	}

	line := requestLine{raw: method + " " + path, method: method, path: path}
	if body != "" {
		if !json.Valid([]byte(body)) {
			return requestLine{}, fmt.Errorf("request %q: body is not valid JSON", raw)
		}
		line.body = json.RawMessage(body)
	}
	return line, nil
}

// payload returns the body for apiclient.Client.Do, nil when the line has none.
func (l requestLine) payload() any {
	if l.body == nil {
		return nil
	}
	return l.body
}

// sessionResponse is the body of a successful login.
type sessionResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

// captureSession stores the token returned by a login request.
func captureSession(client *apiclient.Client, line requestLine, resp *apiclient.Response) (bool, error) {
	if !strings.Contains(line.path, loginPath) || len(resp.Body) == 0 {
		return false, nil
	}
	var session sessionResponse
	if err := resp.JSON(&session); err != nil || session.Token == "" {
		return false, nil
	}
	if err := client.Tokens().Set(apiclient.NewToken(session.Token, session.User)); err != nil {
		return true, fmt.Errorf("failed to save session: %w", err)
	}
	return true, nil
}

// preview pretty-prints JSON bodies and truncates long output.
func preview(body []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(bytes.TrimSpace(body))
	}
	s := out.String()
	if len(s) > maxBodyPreview {
		s = s[:maxBodyPreview] + "\n..."
	}
	return s
}

// cliNavigator tracks the current view of the CLI. Navigating to the login
// view asks the user to sign in again.
type cliNavigator struct {
	mu       sync.Mutex
	location string
	d        tui.Displayer
}

func (n *cliNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *cliNavigator) Navigate(path string) {
	n.mu.Lock()
	n.location = path
	n.mu.Unlock()
	n.d.LoginRequired(path)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	initConfig()

	logger, err := newLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// The TUI would interleave with development logs, so -debug forces plain output.
	if isTTY() && !debug {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner(serverURL)
		runErr := run(d, logger, flag.Args())
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(serverURL)
		if err := run(d, logger, flag.Args()); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer, logger *zap.Logger, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nav := &cliNavigator{d: d}
	client, err := apiclient.New(serverURL,
		apiclient.WithLogger(logger),
		apiclient.WithMirror(apiclient.NewFileStore(tokenFile, serverURL)),
		apiclient.WithNavigator(nav),
		apiclient.WithSlowThreshold(slowThreshold),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer client.Close()

	if logout {
		if err := client.Logout(); err != nil {
			d.Fatal(err)
			return err
		}
		d.Done(0, 0)
		return nil
	}

	lines := make([]requestLine, 0, len(args))
	for _, arg := range args {
		line, err := parseRequestLine(arg)
		if err != nil {
			d.Fatal(err)
			return err
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		d.Fatal(errNoRequests)
		return errNoRequests
	}

	unfollow := tui.Follow(client.Events(), d)
	defer unfollow()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)
	detach := recorder.Attach(registry, client.Events())
	defer detach()

	if metricsAddr != "" {
		srv, err := startMetricsServer(metricsAddr, registry, logger)
		if err != nil {
			d.Fatal(err)
			return err
		}
		defer shutdownMetricsServer(srv, logger)
	}

	if client.Tokens().AccessToken() != "" {
		d.SessionLoaded(tokenFile)
	} else {
		d.SessionMissing()
	}

	// Interrupts abort every pending request at once.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			client.CancelAll()
		case <-finished:
		}
	}()

	succeeded, failed := issueAll(ctx, client, lines, d, logger)
	d.Done(succeeded, failed)
	if failed > 0 {
		return errRequestsFailed
	}
	return nil
}

// issueAll sends every line concurrently and reports each result.
func issueAll(
	ctx context.Context,
	client *apiclient.Client,
	lines []requestLine,
	d tui.Displayer,
	logger *zap.Logger,
) (int, int) {
	var (
		succeeded atomic.Int32
		failed    atomic.Int32
		g         errgroup.Group
	)

	for _, line := range lines {
		g.Go(func() error {
			resp, err := client.Do(ctx, line.method, line.path, line.payload())
			if err != nil {
				failed.Add(1)
				d.RequestFailed(line.raw, err)
				return nil
			}
			if _, err := captureSession(client, line, resp); err != nil {
				logger.Warn("failed to store login session", zap.Error(err))
			}
			succeeded.Add(1)
			d.Result(line.raw, resp.StatusCode, preview(resp.Body))
			return nil
		})
	}
	_ = g.Wait()

	return int(succeeded.Load()), int(failed.Load())
}
