// Package reconcile turns what the sources currently publish into the
// persisted code set.
//
// A Reconciler run reads the known codes, fetches every source, merges the
// results, validates only codes never seen before, and upserts everything.
// A Revalidator pass re-checks codes still marked active and deactivates
// the ones the oracle reports dead. Both pace their oracle calls and stop
// immediately when the oracle rejects the configured account.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/aggregate"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/callgroup"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/oracle"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

// Observer receives run telemetry. *metrics.Metrics satisfies it.
type Observer interface {
	aggregate.Observer
	OracleOutcome(kind string)
	CodeCounts(active, inactive int)
}

// Config wires a Reconciler.
type Config struct {
	Store   codestore.Store
	Sources []source.Source
	Oracle  oracle.Validator
	Pacer   oracle.Pacer // nil means unpaced

	Notifier *notify.Multi  // announces new active codes; may be nil
	Changed  *notify.Signal // fired after every successful persist; may be nil
	Metrics  Observer       // may be nil
	Logger   *slog.Logger
}

// Reconciler runs discovery. Concurrent Run calls share one execution.
type Reconciler struct {
	cfg    Config
	pacer  oracle.Pacer
	runs   callgroup.Group[string, codes.Split]
	logger *slog.Logger

	mu    sync.Mutex
	scope *runScope // nil when nobody is waiting
}

// runScope is the context shared runs execute under. It is cancelled once
// every caller waiting on it has returned or given up.
type runScope struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	pacer := cfg.Pacer
	if pacer == nil {
		pacer = oracle.NewPacer(0)
	}
	return &Reconciler{
		cfg:    cfg,
		pacer:  pacer,
		logger: logging.Default(cfg.Logger).With("component", "reconcile"),
	}
}

// Run performs one reconciliation and returns the persisted split. It fails
// only when the oracle rejects the credentials (oracle.ErrInvalidCredentials,
// nothing persisted), when the store fails, or when ctx ends.
//
// A Run that starts while another is in flight waits for that run and
// returns its result. The shared run is cancelled only when every caller
// waiting on it has cancelled, so one caller giving up does not fail the
// others.
func (r *Reconciler) Run(ctx context.Context) (codes.Split, error) {
	scope, leave := r.enter(ctx)
	defer leave()

	for {
		res, err := r.runs.Do(ctx, "reconcile", func() (codes.Split, error) {
			return r.run(scope.ctx)
		})
		if err != nil {
			return codes.Split{}, err
		}
		if errors.Is(res.Err, context.Canceled) && scope.ctx.Err() == nil {
			// Joined a run whose own callers had all gone; start over.
			r.logger.Debug("in-flight reconcile run was abandoned, retrying")
			continue
		}
		if res.Shared {
			r.logger.Debug("joined in-flight reconcile run")
		}
		return res.Val, res.Err
	}
}

// enter registers ctx as a waiter on the current run scope, creating one
// if needed. The returned func unregisters; it also runs when ctx ends.
func (r *Reconciler) enter(ctx context.Context) (*runScope, func()) {
	r.mu.Lock()
	if r.scope == nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.scope = &runScope{ctx: runCtx, cancel: cancel}
	}
	scope := r.scope
	scope.waiters++
	r.mu.Unlock()

	var once sync.Once
	leave := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			scope.waiters--
			if scope.waiters == 0 {
				scope.cancel()
				if r.scope == scope {
					r.scope = nil
				}
			}
		})
	}
	stop := context.AfterFunc(ctx, leave)
	return scope, func() {
		stop()
		leave()
	}
}

func (r *Reconciler) run(ctx context.Context) (codes.Split, error) {
	start := time.Now()
	logger := r.logger.With("run", uuid.Must(uuid.NewV7()).String())

	persisted, err := r.cfg.Store.ReadAll(ctx)
	if err != nil {
		return codes.Split{}, fmt.Errorf("read known codes: %w", err)
	}
	known := codes.Known(persisted)

	var obs aggregate.Observer
	if r.cfg.Metrics != nil {
		obs = r.cfg.Metrics
	}
	candidates := aggregate.Merge(aggregate.Collect(ctx, r.cfg.Sources, obs, logger)...)

	fresh := make(map[string]bool)
	for i := range candidates {
		c := &candidates[i]
		if active, ok := known[c.Code]; ok {
			c.Active = active
			continue
		}
		active, err := validate(ctx, r.cfg.Oracle, r.pacer, r.cfg.Metrics, logger, c.Code)
		if err != nil {
			return codes.Split{}, err
		}
		c.Active = active
		fresh[c.Code] = true
	}

	for _, c := range candidates {
		if err := r.cfg.Store.Upsert(ctx, c); err != nil {
			return codes.Split{}, fmt.Errorf("persist %s: %w", c.Code, err)
		}
	}

	all, err := r.cfg.Store.ReadAll(ctx)
	if err != nil {
		return codes.Split{}, fmt.Errorf("read codes: %w", err)
	}
	split := codes.SplitByActive(all)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.CodeCounts(len(split.Active), len(split.Inactive))
	}
	r.cfg.Changed.Notify()

	var announce []codes.Record
	for _, rec := range split.Active {
		if fresh[rec.Code] {
			announce = append(announce, rec)
		}
	}
	r.cfg.Notifier.Announce(ctx, announce)

	logger.Info("reconcile finished",
		"candidates", len(candidates),
		"new", len(fresh),
		"new_active", len(announce),
		"active", len(split.Active),
		"inactive", len(split.Inactive),
		"duration", time.Since(start),
	)
	return split, nil
}

// validate asks the oracle about one code and returns the active flag it
// should get. Transport failures fail open. The only errors returned are
// credential rejection and context cancellation.
func validate(ctx context.Context, v oracle.Validator, pacer oracle.Pacer, obs Observer, logger *slog.Logger, code string) (bool, error) {
	if err := pacer.Wait(ctx); err != nil {
		return false, err
	}
	out, err := v.Validate(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if obs != nil {
			obs.OracleOutcome("transport_error")
		}
		var te *oracle.TransportError
		if errors.As(err, &te) {
			logger.Error("oracle unreachable, keeping code active", "code", code, "status", te.StatusCode, "error", te.Err)
		} else {
			logger.Error("oracle call failed, keeping code active", "code", code, "error", err)
		}
		return true, nil
	}

	if obs != nil {
		obs.OracleOutcome(out.Kind.String())
	}
	switch {
	case out.Fatal():
		logger.Error("oracle rejected credentials", "code", code, "retcode", out.Retcode, "message", out.Message, "alert", true)
		return false, fmt.Errorf("validate %s: %w", code, oracle.ErrInvalidCredentials)
	case out.Kind == oracle.Unknown:
		logger.Warn("unrecognised oracle response, keeping code active", "code", code, "retcode", out.Retcode, "message", out.Message)
	default:
		logger.Info("code validated", "code", code, "outcome", out.Kind.String(), "active", out.Active())
	}
	return out.Active(), nil
}
