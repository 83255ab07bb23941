package tui

import (
	"errors"
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/storefront-cli/apiclient"
)

// Displayer abstracts all user-facing output of the CLI.
type Displayer interface {
	Banner(serverURL string)
	SessionLoaded(path string)
	SessionMissing()
	RequestStarted(id, method, url string, startedAt time.Time)
	RequestSlow(id string, elapsed time.Duration)
	RequestStopped(id string, status int, ok bool, elapsed time.Duration)
	Flushed(count int)
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	LoggedOut()
	LoginRequired(path string)
	Result(line string, status int, body string)
	RequestFailed(line string, err error)
	Done(succeeded, failed int)
	Fatal(err error)
}

// Follow forwards lifecycle events from e to d until the returned func is called.
func Follow(e *apiclient.Emitter, d Displayer) func() {
	return e.Subscribe(func(ev apiclient.Event) {
		switch ev.Kind {
		case apiclient.EventStart:
			d.RequestStarted(ev.ID, ev.Method, ev.URL, ev.StartedAt)
		case apiclient.EventSlow:
			d.RequestSlow(ev.ID, ev.Elapsed())
		case apiclient.EventStop:
			d.RequestStopped(ev.ID, ev.Status, ev.OK, ev.Elapsed())
		case apiclient.EventFlush:
			d.Flushed(ev.Count)
		case apiclient.EventRefresh:
			d.Refreshing()
		case apiclient.EventRefreshed:
			if ev.OK {
				d.RefreshOK()
			} else {
				d.RefreshFailed(errors.New(ev.Error))
			}
		case apiclient.EventLogout:
			d.LoggedOut()
		}
	})
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(serverURL string) {
	fmt.Fprintf(p.w, "=== Storefront API CLI (%s) ===\n", serverURL)
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionLoaded(path string) {
	fmt.Fprintf(p.w, "Using stored session from %s\n", path)
}

func (p *PlainDisplayer) SessionMissing() {
	fmt.Fprintln(p.w, "No stored session, sending requests anonymously...")
}

// RequestStarted is silent in plain mode; completion lines carry the timing.
func (p *PlainDisplayer) RequestStarted(_, _, _ string, _ time.Time) {}

func (p *PlainDisplayer) RequestSlow(id string, elapsed time.Duration) {
	fmt.Fprintf(p.w, "Request %s is taking longer than usual (%s)...\n", shortID(id), formatDuration(elapsed))
}

func (p *PlainDisplayer) RequestStopped(id string, status int, ok bool, elapsed time.Duration) {
	mark := "ok"
	if !ok {
		mark = "failed"
	}
	fmt.Fprintf(p.w, "Request %s %s (status %d, %s)\n", shortID(id), mark, status, elapsed.Round(time.Millisecond))
}

func (p *PlainDisplayer) Flushed(count int) {
	if count == 0 {
		return
	}
	fmt.Fprintf(p.w, "Cancelled %d in-flight request(s)\n", count)
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Session expired, refreshing...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Session refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Session refresh failed: %v\n", err)
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Local session cleared.")
}

func (p *PlainDisplayer) LoginRequired(path string) {
	fmt.Fprintf(p.w, "Please log in again (%s)\n", path)
}

func (p *PlainDisplayer) Result(line string, status int, body string) {
	fmt.Fprintf(p.w, "\n%s -> %d\n", line, status)
	if body != "" {
		fmt.Fprintln(p.w, body)
	}
}

func (p *PlainDisplayer) RequestFailed(line string, err error) {
	fmt.Fprintf(p.w, "\n%s -> error: %v\n", line, err)
}

func (p *PlainDisplayer) Done(succeeded, failed int) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Succeeded: %d\n", succeeded)
	fmt.Fprintf(p.w, "Failed:    %d\n", failed)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)                                         {}
func (NoopDisplayer) SessionLoaded(_ string)                                  {}
func (NoopDisplayer) SessionMissing()                                         {}
func (NoopDisplayer) RequestStarted(_, _, _ string, _ time.Time)              {}
func (NoopDisplayer) RequestSlow(_ string, _ time.Duration)                   {}
func (NoopDisplayer) RequestStopped(_ string, _ int, _ bool, _ time.Duration) {}
func (NoopDisplayer) Flushed(_ int)                                           {}
func (NoopDisplayer) Refreshing()                                             {}
func (NoopDisplayer) RefreshOK()                                              {}
func (NoopDisplayer) RefreshFailed(_ error)                                   {}
func (NoopDisplayer) LoggedOut()                                              {}
func (NoopDisplayer) LoginRequired(_ string)                                  {}
func (NoopDisplayer) Result(_ string, _ int, _ string)                        {}
func (NoopDisplayer) RequestFailed(_ string, _ error)                         {}
func (NoopDisplayer) Done(_, _ int)                                           {}
func (NoopDisplayer) Fatal(_ error)                                           {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(serverURL string) {
	t.p.Send(MsgBanner{ServerURL: serverURL})
}

func (t *ProgramDisplayer) SessionLoaded(path string) {
	t.p.Send(MsgSessionLoaded{Path: path})
}

func (t *ProgramDisplayer) SessionMissing() {
	t.p.Send(MsgSessionMissing{})
}

func (t *ProgramDisplayer) RequestStarted(id, method, url string, startedAt time.Time) {
	t.p.Send(MsgRequestStarted{ID: id, Method: method, URL: url, StartedAt: startedAt})
}

func (t *ProgramDisplayer) RequestSlow(id string, elapsed time.Duration) {
	t.p.Send(MsgRequestSlow{ID: id, Elapsed: elapsed})
}

func (t *ProgramDisplayer) RequestStopped(id string, status int, ok bool, elapsed time.Duration) {
	t.p.Send(MsgRequestStopped{ID: id, Status: status, OK: ok, Elapsed: elapsed})
}

func (t *ProgramDisplayer) Flushed(count int) {
	t.p.Send(MsgFlushed{Count: count})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) LoginRequired(path string) {
	t.p.Send(MsgLoginRequired{Path: path})
}

func (t *ProgramDisplayer) Result(line string, status int, body string) {
	t.p.Send(MsgResult{Line: line, Status: status, Body: body})
}

func (t *ProgramDisplayer) RequestFailed(line string, err error) {
	t.p.Send(MsgRequestFailed{Line: line, Err: err})
}

func (t *ProgramDisplayer) Done(succeeded, failed int) {
	t.p.Send(MsgDone{Succeeded: succeeded, Failed: failed})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

// shortID keeps request ids readable in a terminal.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
