package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/oracle"
)

// RevalidatorConfig wires a Revalidator.
type RevalidatorConfig struct {
	Store   codestore.Store
	Oracle  oracle.Validator
	Pacer   oracle.Pacer // nil means unpaced
	Exclude []string     // codes never re-checked

	Changed *notify.Signal
	Metrics Observer
	Logger  *slog.Logger
}

// Revalidator re-checks active codes.
type Revalidator struct {
	cfg    RevalidatorConfig
	pacer  oracle.Pacer
	logger *slog.Logger
}

// NewRevalidator creates a Revalidator.
func NewRevalidator(cfg RevalidatorConfig) *Revalidator {
	pacer := cfg.Pacer
	if pacer == nil {
		pacer = oracle.NewPacer(0)
	}
	return &Revalidator{
		cfg:    cfg,
		pacer:  pacer,
		logger: logging.Default(cfg.Logger).With("component", "revalidate"),
	}
}

// Report summarises one pass.
type Report struct {
	Checked     int
	Excluded    int
	Deactivated []string
}

// Run checks every active code once. Codes the oracle reports expired,
// invalid, or used up are deactivated; everything else keeps its flag.
// Errors are credential rejection, a store failure, or ctx ending; the
// report covers the work done up to that point.
func (v *Revalidator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	logger := v.logger.With("run", uuid.Must(uuid.NewV7()).String())
	var rep Report

	all, err := v.cfg.Store.ReadAll(ctx)
	if err != nil {
		return rep, fmt.Errorf("read codes: %w", err)
	}

	active, inactive := 0, 0
	for _, r := range all {
		if !r.Active {
			inactive++
			continue
		}
		active++
		if slices.Contains(v.cfg.Exclude, r.Code) {
			rep.Excluded++
			continue
		}

		rep.Checked++
		stillActive, err := validate(ctx, v.cfg.Oracle, v.pacer, v.cfg.Metrics, logger, r.Code)
		if err != nil {
			v.finish(rep)
			return rep, err
		}
		if stillActive {
			continue
		}
		if err := v.cfg.Store.SetActive(ctx, r.Code, false); err != nil {
			v.finish(rep)
			return rep, fmt.Errorf("deactivate %s: %w", r.Code, err)
		}
		logger.Info("code deactivated", "code", r.Code)
		rep.Deactivated = append(rep.Deactivated, r.Code)
	}

	if v.cfg.Metrics != nil {
		n := len(rep.Deactivated)
		v.cfg.Metrics.CodeCounts(active-n, inactive+n)
	}
	v.finish(rep)
	logger.Info("revalidation finished",
		"checked", rep.Checked,
		"excluded", rep.Excluded,
		"deactivated", len(rep.Deactivated),
		"duration", time.Since(start),
	)
	return rep, nil
}

func (v *Revalidator) finish(rep Report) {
	if len(rep.Deactivated) > 0 {
		v.cfg.Changed.Notify()
	}
}
