package prydwen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

const page = `<!doctype html><html><body>
<div class="codes">
  <div class="box">
    <div class="code">STARRAILGIFT <span class="new">NEW!</span></div>
    <div class="rewards">50 Stellar Jade + 2 Traveler's Guide + 10,000 Credit</div>
  </div>
  <div class="box">
    <div class="code">HSRVER10JYTGHC</div>
    <div class="rewards">100 Stellar Jade</div>
  </div>
  <div class="box"><div class="code"> </div></div>
</div>
<div class="box"><div class="code">NOTINCODES</div></div>
</body></html>`

func newTestSource(t *testing.T, status int, body string) *Source {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	src, err := NewFactory().New("Prydwen", map[string]string{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return src.(*Source)
}

func TestFetch(t *testing.T) {
	src := newTestSource(t, http.StatusOK, page)
	got, err := src.parse([]byte(page))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 codes, got %+v", got)
	}
	if got[0].Code != "STARRAILGIFT" {
		t.Errorf("code: got %q", got[0].Code)
	}
	if !slices.Equal(got[0].Rewards, []string{"50 Stellar Jade", "2 Traveler's Guide", "10,000 Credit"}) {
		t.Errorf("rewards: got %v", got[0].Rewards)
	}
	if got[1].Source != "Prydwen" || !got[1].Active {
		t.Errorf("record: %+v", got[1])
	}
}

func TestFetchOverHTTP(t *testing.T) {
	src := newTestSource(t, http.StatusOK, page)
	got, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 codes, got %d", len(got))
	}
}

func TestFetchHTTPError(t *testing.T) {
	src := newTestSource(t, http.StatusForbidden, "blocked")
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 403")
	}
}
