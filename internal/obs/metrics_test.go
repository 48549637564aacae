package obs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCanonicalPathUsesRoutePattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/v1/listings/{id}", func(w http.ResponseWriter, req *http.Request) {
		got = CanonicalPath(req)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings/01HZZZ", nil))
	if got != "/v1/listings/{id}" {
		t.Fatalf("unexpected canonical path %q", got)
	}
}

func TestCanonicalPathWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/anything/123", nil)
	if got := CanonicalPath(req); got != "unmatched" {
		t.Fatalf("expected unmatched, got %q", got)
	}
}

func TestInstrumentCountsByPattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/matches/{listingId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/matches/{listingId}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/matches/abc", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/matches/{listingId}", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(webhookEvents.WithLabelValues("unknown", "ignored"))
	WebhookEvent("", "ignored")
	if got := testutil.ToFloat64(webhookEvents.WithLabelValues("unknown", "ignored")); got-before != 1 {
		t.Fatalf("webhook counter not incremented")
	}

	before = testutil.ToFloat64(ordersResolved.WithLabelValues("SUCCESS"))
	OrderResolved("SUCCESS")
	if got := testutil.ToFloat64(ordersResolved.WithLabelValues("SUCCESS")); got-before != 1 {
		t.Fatalf("orders counter not incremented")
	}
}

func TestFromFallsBackToProcessLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	From(context.Background()).Info("fallback")
	scoped := zap.New(core).With(zap.String("request_id", "r-1"))
	From(ToContext(context.Background(), scoped)).Info("scoped")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].ContextMap()["request_id"] != "r-1" {
		t.Fatalf("scoped logger lost its fields: %v", entries[1].ContextMap())
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARN").String() != "warn" || parseLevel("bogus").String() != "info" {
		t.Fatal("unexpected level parsing")
	}
}

func TestResolveBuildInfoKeepsLinkedCommit(t *testing.T) {
	bi := ResolveBuildInfo("1.2.3", "abc123")
	if bi.Version != "1.2.3" || bi.Commit != "abc123" || bi.GoVersion == "" {
		t.Fatalf("unexpected build info %+v", bi)
	}
	if got := ResolveBuildInfo("1.2.3", "dev"); got.Commit == "" || got.Commit == "dev" {
		t.Fatalf("dev commit should be resolved, got %q", got.Commit)
	}
}
