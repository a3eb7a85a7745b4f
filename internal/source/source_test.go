package source

import (
	"context"
	"log/slog"
	"slices"
	"testing"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/config"
)

type namedSource struct{ name string }

func (s namedSource) Name() string                                  { return s.name }
func (s namedSource) Fetch(context.Context) ([]codes.Record, error) { return nil, nil }

func testFactories() Factories {
	return Factories{
		"fake": {
			DefaultName: "Fake",
			New: func(name string, _ map[string]string, _ *slog.Logger) (Source, error) {
				return namedSource{name: name}, nil
			},
		},
	}
}

func TestBuildKeepsConfigOrder(t *testing.T) {
	srcs, err := Build([]config.SourceConfig{
		{Type: "fake", Name: "B"},
		{Type: "FAKE", Name: "A"},
		{Type: "fake"},
	}, testFactories(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var names []string
	for _, s := range srcs {
		names = append(names, s.Name())
	}
	if !slices.Equal(names, []string{"B", "A", "Fake"}) {
		t.Errorf("got %v", names)
	}
}

func TestBuildErrors(t *testing.T) {
	if _, err := Build([]config.SourceConfig{{Type: "nope"}}, testFactories(), nil); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := Build([]config.SourceConfig{{Type: "fake"}, {Type: "fake"}}, testFactories(), nil); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestSplitRewards(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"50 Stellar Jade + 10,000 Credit", []string{"50 Stellar Jade", "10,000 Credit"}},
		{"Stellar Jade x60 and Credit x10,000, Traveler's Guide x2", []string{"Stellar Jade x60", "Credit x10,000", "Traveler's Guide x2"}},
		{"  100 Stellar Jade (NEW!) ", []string{"100 Stellar Jade"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := SplitRewards(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("SplitRewards(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
