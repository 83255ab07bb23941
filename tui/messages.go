package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ ServerURL string }

// MsgSessionLoaded signals that a stored session was found on disk.
type MsgSessionLoaded struct{ Path string }

// MsgSessionMissing signals that requests will start without a session.
type MsgSessionMissing struct{}

// MsgRequestStarted signals that a tracked request was dispatched.
type MsgRequestStarted struct {
	ID        string
	Method    string
	URL       string
	StartedAt time.Time
}

// MsgRequestSlow signals that a request crossed the slow threshold.
type MsgRequestSlow struct {
	ID      string
	Elapsed time.Duration
}

// MsgRequestStopped signals that a tracked request completed.
type MsgRequestStopped struct {
	ID      string
	Status  int
	OK      bool
	Elapsed time.Duration
}

// MsgFlushed signals that every in-flight request was cancelled at once.
type MsgFlushed struct{ Count int }

// MsgRefreshing signals that a session refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the session was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that the session refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgLoggedOut signals that local credentials were discarded.
type MsgLoggedOut struct{}

// MsgLoginRequired signals a redirect to the login view.
type MsgLoginRequired struct{ Path string }

// MsgResult carries the response of one request line.
type MsgResult struct {
	Line   string
	Status int
	Body   string
}

// MsgRequestFailed signals that one request line failed.
type MsgRequestFailed struct {
	Line string
	Err  error
}

// MsgDone signals that every request line has finished.
type MsgDone struct {
	Succeeded int
	Failed    int
}

// MsgFatal signals a fatal error that should terminate the run.
type MsgFatal struct{ Err error }
