package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/config"
)

type recordingNotifier struct {
	name   string
	fail   bool
	mu     sync.Mutex
	got    []string
	closed bool
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(_ context.Context, r codes.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, r.Code)
	if n.fail {
		return errors.New("boom")
	}
	return nil
}

func (n *recordingNotifier) Close() error {
	n.closed = true
	return nil
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) Notification(_ string, err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func TestClaimURL(t *testing.T) {
	if got := ClaimURL("STARRAILGIFT"); got != "https://hsr.hoyoverse.com/gift?code=STARRAILGIFT" {
		t.Errorf("ClaimURL: got %q", got)
	}
}

func TestPayloadEmptyRewards(t *testing.T) {
	data, err := Marshal(codes.Record{Code: "ABC", Source: "x", DiscoveredAt: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if string(m["rewards"]) != "[]" {
		t.Errorf("rewards: got %s, want []", m["rewards"])
	}
}

func TestMultiAnnounceContinuesPastFailures(t *testing.T) {
	bad := &recordingNotifier{name: "bad", fail: true}
	good := &recordingNotifier{name: "good"}
	obs := &countingObserver{}
	m := NewMulti([]Notifier{bad, good}, obs, slog.New(slog.DiscardHandler))

	m.Announce(context.Background(), []codes.Record{{Code: "A"}, {Code: "B"}})

	if len(good.got) != 2 || good.got[0] != "A" || good.got[1] != "B" {
		t.Errorf("good notifier got %v", good.got)
	}
	if len(bad.got) != 2 {
		t.Errorf("bad notifier should still be called for every code, got %v", bad.got)
	}
	if obs.ok != 2 || obs.failed != 2 {
		t.Errorf("observer: ok=%d failed=%d", obs.ok, obs.failed)
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !bad.closed || !good.closed {
		t.Error("Close should close every notifier")
	}
}

func TestMultiNilSafe(t *testing.T) {
	var m *Multi
	if m.Len() != 0 {
		t.Error("nil Multi should have Len 0")
	}
	m.Announce(context.Background(), []codes.Record{{Code: "A"}})
	if err := m.Close(); err != nil {
		t.Error(err)
	}
}

func TestBuild(t *testing.T) {
	factories := Factories{
		"rec": func(params map[string]string, _ *slog.Logger) (Notifier, error) {
			if params["fail"] == "true" {
				return nil, errors.New("bad params")
			}
			return &recordingNotifier{name: "rec"}, nil
		},
	}

	ns, err := Build([]config.NotifierConfig{{Type: "REC"}, {Type: "rec"}}, factories, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("expected 2 notifiers, got %d", len(ns))
	}

	if _, err := Build([]config.NotifierConfig{{Type: "carrier-pigeon"}}, factories, nil); err == nil {
		t.Error("expected error for unknown type")
	}

	if _, err := Build([]config.NotifierConfig{{Type: "rec"}, {Type: "rec", Params: map[string]string{"fail": "true"}}}, factories, nil); err == nil {
		t.Error("expected factory error to propagate")
	}
}
