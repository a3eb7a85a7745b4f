package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobRun("discovery", nil, time.Second)
	m.OracleOutcome("valid")
	m.SourceFetch("Prydwen", errors.New("boom"))
	m.CodeCounts(1, 2)
	m.ThrottleRejected()
	m.Notification("webhook", nil)
	m.HTTPRequest("/starrail/code", "GET", 200, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rr.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New("test")
	m.OracleOutcome("valid")
	m.OracleOutcome("valid")
	m.OracleOutcome("expired")
	m.SourceFetch("Prydwen", nil)
	m.SourceFetch("Prydwen", errors.New("boom"))
	m.JobRun("discovery", errors.New("fail"), time.Second)
	m.CodeCounts(3, 4)
	m.ThrottleRejected()

	if got := testutil.ToFloat64(m.oracleOutcomes.WithLabelValues("valid")); got != 2 {
		t.Errorf("valid outcomes: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.sourceFetches.WithLabelValues("Prydwen", "error")); got != 1 {
		t.Errorf("failed fetches: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("discovery", "error")); got != 1 {
		t.Errorf("failed runs: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.codes.WithLabelValues("inactive")); got != 4 {
		t.Errorf("inactive codes: expected 4, got %v", got)
	}
	if got := testutil.ToFloat64(m.throttleDenied); got != 1 {
		t.Errorf("throttle rejections: expected 1, got %v", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New("v1.2.3")
	m.OracleOutcome("cooldown")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`starrail_oracle_outcomes_total{kind="cooldown"} 1`,
		`starrail_info{version="v1.2.3"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}
