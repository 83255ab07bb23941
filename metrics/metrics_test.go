package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-authgate/storefront-cli/apiclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_RequestLifecycle(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.Observe(apiclient.Event{Kind: apiclient.EventStart, ID: "1"})
	r.Observe(apiclient.Event{Kind: apiclient.EventStart, ID: "2"})
	r.Observe(apiclient.Event{Kind: apiclient.EventStart, ID: "3"})
	r.Observe(apiclient.Event{Kind: apiclient.EventSlow, ID: "1"})
	r.Observe(apiclient.Event{Kind: apiclient.EventStop, ID: "1", OK: true, ElapsedMs: 120})
	r.Observe(apiclient.Event{Kind: apiclient.EventFlush, Count: 2})

	if got := testutil.ToFloat64(r.RequestsStarted); got != 3 {
		t.Errorf("started = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.RequestsSlow); got != 1 {
		t.Errorf("slow = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.InFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.RequestsAborted); got != 2 {
		t.Errorf("aborted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.Flushes); got != 1 {
		t.Errorf("flushes = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.RequestDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestRecorder_AuthEvents(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.Observe(apiclient.Event{Kind: apiclient.EventRefresh})
	r.Observe(apiclient.Event{Kind: apiclient.EventRefreshed, OK: true, ElapsedMs: 40})
	r.Observe(apiclient.Event{Kind: apiclient.EventRefreshed, Error: "refresh failed"})
	r.Observe(apiclient.Event{Kind: apiclient.EventLogout})

	if got := testutil.ToFloat64(r.Refreshes.WithLabelValues("success")); got != 1 {
		t.Errorf("successful refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.Refreshes.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.Logouts); got != 1 {
		t.Errorf("logouts = %v, want 1", got)
	}
}

func TestRecorder_AttachToClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := apiclient.New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	r := New(reg)
	detach := r.Attach(reg, client.Events())
	defer detach()

	if _, err := client.Do(context.Background(), http.MethodGet, "/products", nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if got := testutil.ToFloat64(r.RequestsStarted); got != 1 {
		t.Errorf("started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.InFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.SubscriberDrops); got != 0 {
		t.Errorf("dropped = %v, want 0", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "storefront_http_request_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("request duration histogram was not exported")
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering twice on the same registry should panic")
		}
	}()
	New(reg)
}
