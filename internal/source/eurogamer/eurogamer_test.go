package eurogamer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

const page = `<html><body><article>
<p>Here are the codes:</p>
<ul>
  <li><strong>STARRAILGIFT</strong>: 50 Stellar Jade, 10,000 Credit and 2 Traveler's Guide (New!)</li>
  <li>Note: codes expire quickly</li>
  <li>HSR2024: 60 Stellar Jade</li>
</ul>
<table>
  <tr><th>Code</th><th>Rewards</th><th>Added</th></tr>
  <tr><td>TABLECODE1</td><td>3 Refined Aether and 5,000 Credit</td><td>Jan</td></tr>
  <tr><td>lowercase</td><td>nothing</td><td>Jan</td></tr>
</table>
</article></body></html>`

func TestParse(t *testing.T) {
	s := &Source{name: "Eurogamer"}
	got, err := s.parse([]byte(page))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := map[string][]string{
		"STARRAILGIFT": {"50 Stellar Jade", "10,000 Credit", "2 Traveler's Guide"},
		"HSR2024":      {"60 Stellar Jade"},
		"TABLECODE1":   {"3 Refined Aether", "5,000 Credit"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d codes, got %+v", len(want), got)
	}
	for _, r := range got {
		w, ok := want[r.Code]
		if !ok {
			t.Errorf("unexpected code %q", r.Code)
			continue
		}
		if !slices.Equal(r.Rewards, w) {
			t.Errorf("%s rewards: got %v, want %v", r.Code, r.Rewards, w)
		}
		if r.Source != "Eurogamer" || !r.Active {
			t.Errorf("%s: %+v", r.Code, r)
		}
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := NewFactory().New("Eurogamer", map[string]string{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
