package reconcile

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore/memory"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/oracle"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

// --- fakes ---

type fakeSource struct {
	name string
	recs []codes.Record
	err  error
}

func (s fakeSource) Name() string { return s.name }

func (s fakeSource) Fetch(context.Context) ([]codes.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]codes.Record, len(s.recs))
	for i, r := range s.recs {
		r.Source = s.name
		r.Active = true
		out[i] = r
	}
	return out, nil
}

func src(name string, codeList ...string) fakeSource {
	s := fakeSource{name: name}
	for _, c := range codeList {
		s.recs = append(s.recs, codes.Record{Code: c, Rewards: []string{"50 Stellar Jade"}})
	}
	return s
}

type fakeOracle struct {
	mu       sync.Mutex
	outcomes map[string]int // retcode per code; missing means 0
	errs     map[string]error
	calls    []string
	block    chan struct{} // when set, Validate waits on it
}

func (o *fakeOracle) Validate(ctx context.Context, code string) (oracle.Outcome, error) {
	o.mu.Lock()
	o.calls = append(o.calls, code)
	block := o.block
	o.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return oracle.Outcome{}, &oracle.TransportError{Code: code, Err: ctx.Err()}
		}
	}
	if err := o.errs[code]; err != nil {
		return oracle.Outcome{}, err
	}
	return oracle.Classify(o.outcomes[code], "msg"), nil
}

func (o *fakeOracle) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.calls)
}

type failingStore struct {
	*memory.Store
	upsertErr error
	setErr    error
}

func (s *failingStore) Upsert(ctx context.Context, r codes.Record) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Store.Upsert(ctx, r)
}

func (s *failingStore) SetActive(ctx context.Context, code string, active bool) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.SetActive(ctx, code, active)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []string
}

func (n *recordingNotifier) Name() string { return "rec" }
func (n *recordingNotifier) Close() error { return nil }
func (n *recordingNotifier) Notify(_ context.Context, r codes.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, r.Code)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	fetches  int
	active   int
	inactive int
}

func (o *countingObserver) SourceFetch(string, error) {
	o.mu.Lock()
	o.fetches++
	o.mu.Unlock()
}

func (o *countingObserver) OracleOutcome(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[kind]++
}

func (o *countingObserver) CodeCounts(active, inactive int) {
	o.mu.Lock()
	o.active, o.inactive = active, inactive
	o.mu.Unlock()
}

func seed(t *testing.T, store *memory.Store, active map[string]bool) {
	t.Helper()
	ctx := context.Background()
	for _, c := range slices.Sorted(maps.Keys(active)) {
		if err := store.Upsert(ctx, codes.Record{Code: c, Source: "seed", Active: active[c]}); err != nil {
			t.Fatal(err)
		}
	}
}

func codeList(recs []codes.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Code
	}
	return out
}

func stateOf(t *testing.T, store *memory.Store) map[string]bool {
	t.Helper()
	all, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return codes.Known(all)
}

// --- tests ---

func TestReconcileScenario(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, map[string]bool{"A": true, "B": false})
	orc := &fakeOracle{}

	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "A", "B", "C")},
		Oracle:  orc,
	})
	split, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := orc.Calls(); !slices.Equal(got, []string{"C"}) {
		t.Errorf("oracle calls: got %v, want [C]", got)
	}
	want := map[string]bool{"A": true, "B": false, "C": true}
	if got := stateOf(t, store); !maps.Equal(got, want) {
		t.Errorf("state: got %v, want %v", got, want)
	}
	if got := codeList(split.Active); !slices.Equal(got, []string{"A", "C"}) {
		t.Errorf("active: got %v", got)
	}
	if got := codeList(split.Inactive); !slices.Equal(got, []string{"B"}) {
		t.Errorf("inactive: got %v", got)
	}
	for _, rec := range split.Active {
		if rec.Code == "C" && rec.DiscoveredAt.IsZero() {
			t.Error("C should have discovered_at set")
		}
		if rec.Code == "A" && rec.Source != "s1" {
			t.Errorf("known code source should be refreshed, got %q", rec.Source)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{outcomes: map[string]int{"DEAD": oracle.RetcodeExpired}}
	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "NEW1", "DEAD"), src("s2", "NEW2")},
		Oracle:  orc,
	})

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	calls := len(orc.Calls())
	firstState := stateOf(t, store)

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(orc.Calls()); got != calls {
		t.Errorf("second run made %d extra oracle calls", got-calls)
	}
	if got := stateOf(t, store); !maps.Equal(got, firstState) {
		t.Errorf("state changed: %v -> %v", firstState, got)
	}
	if !slices.Equal(codeList(first.Active), codeList(second.Active)) || !slices.Equal(codeList(first.Inactive), codeList(second.Inactive)) {
		t.Errorf("split changed: %v/%v -> %v/%v", codeList(first.Active), codeList(first.Inactive), codeList(second.Active), codeList(second.Inactive))
	}
	if !slices.Equal(codeList(second.Inactive), []string{"DEAD"}) {
		t.Errorf("inactive: %v", codeList(second.Inactive))
	}
}

func TestReconcileAbortsOnInvalidCredentials(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{outcomes: map[string]int{"C2": oracle.RetcodeInvalidCredentials}}
	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "C1", "C2", "C3", "C4", "C5")},
		Oracle:  orc,
	})

	_, err := r.Run(context.Background())
	if !errors.Is(err, oracle.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := orc.Calls(); !slices.Equal(got, []string{"C1", "C2"}) {
		t.Errorf("oracle calls: got %v, want [C1 C2]", got)
	}
	if got := stateOf(t, store); len(got) != 0 {
		t.Errorf("nothing should be persisted, got %v", got)
	}
}

func TestReconcileFailOpenOnTransportError(t *testing.T) {
	store := memory.NewStore()
	obs := &countingObserver{}
	orc := &fakeOracle{
		outcomes: map[string]int{"WEIRD": -9999},
		errs: map[string]error{
			"DOWN":  &oracle.TransportError{Code: "DOWN", StatusCode: 502, Err: errors.New("bad gateway")},
			"PLAIN": errors.New("connection reset"),
		},
	}
	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "DOWN", "PLAIN", "WEIRD")},
		Oracle:  orc,
		Metrics: obs,
	})
	split, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(split.Active) != 3 || len(split.Inactive) != 0 {
		t.Errorf("all codes should fail open: active=%v inactive=%v", codeList(split.Active), codeList(split.Inactive))
	}
	if obs.outcomes["transport_error"] != 2 || obs.outcomes["unknown"] != 1 {
		t.Errorf("outcomes: %v", obs.outcomes)
	}
	if obs.active != 3 || obs.fetches != 1 {
		t.Errorf("observer: active=%d fetches=%d", obs.active, obs.fetches)
	}
}

func TestReconcileOutcomeMapping(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{outcomes: map[string]int{
		"OK":       oracle.RetcodeOK,
		"USED":     oracle.RetcodeRedeemed,
		"USED2":    oracle.RetcodeRedeemedAlt,
		"EXPIRED":  oracle.RetcodeExpired,
		"INVALID":  oracle.RetcodeInvalid,
		"MAXED":    oracle.RetcodeMaxUsage,
		"COOLDOWN": oracle.RetcodeCooldown,
	}}
	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "OK", "USED", "USED2", "EXPIRED", "INVALID", "MAXED", "COOLDOWN")},
		Oracle:  orc,
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"OK": true, "USED": true, "USED2": true, "COOLDOWN": true,
		"EXPIRED": false, "INVALID": false, "MAXED": false,
	}
	if got := stateOf(t, store); !maps.Equal(got, want) {
		t.Errorf("state: got %v, want %v", got, want)
	}
}

func TestReconcileSourceFailureIsLocal(t *testing.T) {
	store := memory.NewStore()
	r := New(Config{
		Store: store,
		Sources: []source.Source{
			fakeSource{name: "broken", err: errors.New("503")},
			src("ok", "X"),
		},
		Oracle: &fakeOracle{},
	})
	split, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(codeList(split.Active), []string{"X"}) {
		t.Errorf("active: %v", codeList(split.Active))
	}
}

func TestReconcileLastSourceWins(t *testing.T) {
	store := memory.NewStore()
	s1 := fakeSource{name: "first", recs: []codes.Record{{Code: "DUP", Rewards: []string{"old"}}}}
	s2 := fakeSource{name: "second", recs: []codes.Record{{Code: "DUP", Rewards: []string{"new"}}}}
	orc := &fakeOracle{}
	r := New(Config{Store: store, Sources: []source.Source{s1, s2}, Oracle: orc})

	split, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(orc.Calls()) != 1 {
		t.Errorf("duplicate code should be validated once, got %v", orc.Calls())
	}
	if len(split.Active) != 1 || split.Active[0].Source != "second" || split.Active[0].Rewards[0] != "new" {
		t.Errorf("merged record: %+v", split.Active)
	}
}

func TestReconcilePersistenceError(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingStore{Store: memory.NewStore(), upsertErr: boom}
	r := New(Config{Store: store, Sources: []source.Source{src("s1", "A")}, Oracle: &fakeOracle{}})
	if _, err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestReconcileAnnouncesNewActiveCodes(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, map[string]bool{"OLD": true})
	rec := &recordingNotifier{}
	changed := notify.NewSignal()
	ch := changed.C()

	r := New(Config{
		Store:    store,
		Sources:  []source.Source{src("s1", "OLD", "FRESH", "DEAD")},
		Oracle:   &fakeOracle{outcomes: map[string]int{"DEAD": oracle.RetcodeExpired}},
		Notifier: notify.NewMulti([]notify.Notifier{rec}, nil, nil),
		Changed:  changed,
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(rec.got, []string{"FRESH"}) {
		t.Errorf("announced: got %v, want [FRESH]", rec.got)
	}
	select {
	case <-ch:
	default:
		t.Error("Changed signal should fire after a successful run")
	}
}

func TestReconcilePacesOracleCalls(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{}
	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "P1", "P2", "P3")},
		Oracle:  orc,
		Pacer:   oracle.NewPacer(20 * time.Millisecond),
	})
	start := time.Now()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// First call is immediate, the next two wait one interval each.
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("three paced calls took %v, expected at least ~40ms", elapsed)
	}
}

func TestReconcileCancelledWhilePacing(t *testing.T) {
	store := memory.NewStore()
	r := New(Config{
		Store:   store,
		Sources: []source.Source{src("s1", "Q1", "Q2")},
		Oracle:  &fakeOracle{},
		Pacer:   oracle.NewPacer(time.Hour),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := r.Run(ctx); err == nil {
		t.Fatal("expected error when ctx ends during pacing")
	}
	if got := stateOf(t, store); len(got) != 0 {
		t.Errorf("nothing should be persisted, got %v", got)
	}
}

func TestReconcileConcurrentRunsShareExecution(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{block: make(chan struct{})}
	r := New(Config{Store: store, Sources: []source.Source{src("s1", "ONLY")}, Oracle: orc})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Go(func() { _, errs[0] = r.Run(context.Background()) })

	// Wait for the first run to reach the oracle, then start a second.
	deadline := time.Now().Add(2 * time.Second)
	for len(orc.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	wg.Go(func() { _, errs[1] = r.Run(context.Background()) })
	time.Sleep(20 * time.Millisecond)
	close(orc.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d: %v", i, err)
		}
	}
	if got := orc.Calls(); len(got) != 1 {
		t.Errorf("oracle calls: got %v, want exactly one", got)
	}
}

func waiters(r *Reconciler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scope == nil {
		return 0
	}
	return r.scope.waiters
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReconcileJoinedRunSurvivesFirstCallerCancel(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{block: make(chan struct{})}
	r := New(Config{Store: store, Sources: []source.Source{src("s1", "ONLY")}, Oracle: orc})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var firstErr, secondErr error
	var second codes.Split
	wg.Go(func() { _, firstErr = r.Run(ctx) })
	waitUntil(t, func() bool { return len(orc.Calls()) == 1 })

	wg.Go(func() { second, secondErr = r.Run(context.Background()) })
	waitUntil(t, func() bool { return waiters(r) == 2 })

	cancel()
	waitUntil(t, func() bool { return waiters(r) == 1 })
	close(orc.block)
	wg.Wait()

	if !errors.Is(firstErr, context.Canceled) {
		t.Errorf("first caller: got %v, want context.Canceled", firstErr)
	}
	if secondErr != nil {
		t.Fatalf("joined caller with live context: %v", secondErr)
	}
	if len(second.Active) != 1 || second.Active[0].Code != "ONLY" {
		t.Errorf("joined caller split: %+v", second)
	}
	if got := orc.Calls(); len(got) != 1 {
		t.Errorf("oracle calls: got %v, want exactly one", got)
	}
	if got := stateOf(t, store); len(got) != 1 {
		t.Errorf("stored: %v", got)
	}
}

func TestReconcileRunCancelledWhenAllCallersLeave(t *testing.T) {
	store := memory.NewStore()
	orc := &fakeOracle{block: make(chan struct{})}
	defer close(orc.block)
	r := New(Config{Store: store, Sources: []source.Source{src("s1", "ONLY")}, Oracle: orc})

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Go(func() { _, errs[0] = r.Run(ctx1) })
	waitUntil(t, func() bool { return len(orc.Calls()) == 1 })
	wg.Go(func() { _, errs[1] = r.Run(ctx2) })
	waitUntil(t, func() bool { return waiters(r) == 2 })

	cancel1()
	cancel2()
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("caller %d: got %v, want context.Canceled", i, err)
		}
	}

	// The abandoned run stops at the oracle and persists nothing.
	waitUntil(t, func() bool { return !r.runs.InFlight("reconcile") })
	if got := stateOf(t, store); len(got) != 0 {
		t.Errorf("nothing should be persisted, got %v", got)
	}
	if waiters(r) != 0 {
		t.Error("scope should be released")
	}
}
