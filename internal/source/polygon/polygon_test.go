package polygon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

const page = `<!doctype html><html><body>
<p>Here are the codes:</p>
<ul>
  <li><strong>STARRAILGIFT</strong> (50 Stellar Jade, two Traveler's Guide, 10,000 Credit and five Bottled Soda)</li>
  <li><strong>HSRVER10JYTGHC</strong> (100 Stellar Jade — new for version 1.0)</li>
  <li>Stellar Jade (the premium currency)</li>
  <li><strong>EMPTYREWARDS</strong> ()</li>
  <li>No parentheses here</li>
</ul>
</body></html>`

func newTestSource(t *testing.T, status int, body string) *Source {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	src, err := NewFactory().New("Polygon", map[string]string{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return src.(*Source)
}

func TestParse(t *testing.T) {
	src := newTestSource(t, http.StatusOK, page)
	got, err := src.parse([]byte(page))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 codes, got %+v", got)
	}
	want := []string{"50 Stellar Jade", "two Traveler's Guide", "10,000 Credit", "five Bottled Soda"}
	if got[0].Code != "STARRAILGIFT" || !slices.Equal(got[0].Rewards, want) {
		t.Errorf("record: %+v", got[0])
	}
	if got[1].Code != "HSRVER10JYTGHC" || !slices.Equal(got[1].Rewards, []string{"100 Stellar Jade"}) {
		t.Errorf("record: %+v", got[1])
	}
	if got[1].Source != "Polygon" || !got[1].Active {
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
	src := newTestSource(t, http.StatusInternalServerError, "oops")
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 500")
	}
}
