package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore/memory"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore/mongo"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore/postgres"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore/sqlite"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/config"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/home"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/metrics"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
	newshoyolab "github.com/torikushiii/HonkaiStarRailAPI/internal/news/hoyolab"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
	notifykafka "github.com/torikushiii/HonkaiStarRailAPI/internal/notify/kafka"
	notifymqtt "github.com/torikushiii/HonkaiStarRailAPI/internal/notify/mqtt"
	notifywebhook "github.com/torikushiii/HonkaiStarRailAPI/internal/notify/webhook"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/oracle"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/reconcile"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/scheduler"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/scheduler/redislock"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/server"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
	sourceeurogamer "github.com/torikushiii/HonkaiStarRailAPI/internal/source/eurogamer"
	sourcefandom "github.com/torikushiii/HonkaiStarRailAPI/internal/source/fandom"
	sourcegame8 "github.com/torikushiii/HonkaiStarRailAPI/internal/source/game8"
	sourcehoyolab "github.com/torikushiii/HonkaiStarRailAPI/internal/source/hoyolab"
	sourcejsonapi "github.com/torikushiii/HonkaiStarRailAPI/internal/source/jsonapi"
	sourcepolygon "github.com/torikushiii/HonkaiStarRailAPI/internal/source/polygon"
	sourceprydwen "github.com/torikushiii/HonkaiStarRailAPI/internal/source/prydwen"
	sourcestatic "github.com/torikushiii/HonkaiStarRailAPI/internal/source/static"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/throttle"
)

// Job names as they appear in logs, metrics, and /jobs.
const (
	jobDiscovery    = "discovery"
	jobRevalidation = "revalidation"
	jobNews         = "news"
)

func sourceFactories() source.Factories {
	return source.Factories{
		"hoyolab":   sourcehoyolab.NewFactory(),
		"eurogamer": sourceeurogamer.NewFactory(),
		"game8":     sourcegame8.NewFactory(),
		"fandom":    sourcefandom.NewFactory(),
		"polygon":   sourcepolygon.NewFactory(),
		"prydwen":   sourceprydwen.NewFactory(),
		"jsonapi":   sourcejsonapi.NewFactory(),
		"static":    sourcestatic.NewFactory(),
	}
}

func notifierFactories() notify.Factories {
	return notify.Factories{
		"webhook": notifywebhook.NewFactory(),
		"kafka":   notifykafka.NewFactory(),
		"mqtt":    notifymqtt.NewFactory(),
	}
}

// app holds every wired component. Commands build one, use what they need,
// and Close it.
type app struct {
	cfg     *config.Config
	home    home.Dir
	logger  *slog.Logger
	metrics *metrics.Metrics
	changed *notify.Signal

	store       codestore.Store
	notifier    *notify.Multi
	reconciler  *reconcile.Reconciler
	revalidator *reconcile.Revalidator
	news        *news.Service // nil when news is disabled

	closers []io.Closer
}

// newApp opens the store and builds the pipeline. On error everything
// opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, hd home.Dir, logger *slog.Logger) (_ *app, err error) {
	logger = logging.Default(logger)
	a := &app{
		cfg:     cfg,
		home:    hd,
		logger:  logger,
		metrics: metrics.New(version),
		changed: notify.NewSignal(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = openStore(ctx, cfg.Store, hd, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store)

	sources, err := source.Build(cfg.Sources, sourceFactories(), logger)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}

	ns, err := notify.Build(cfg.Notifiers, notifierFactories(), logger)
	if err != nil {
		return nil, fmt.Errorf("build notifiers: %w", err)
	}
	a.notifier = notify.NewMulti(ns, a.metrics, logger)
	a.closers = append(a.closers, a.notifier)

	client := oracle.New(oracle.Config{
		Endpoint:   cfg.Hoyolab.Endpoint,
		GameBiz:    cfg.Hoyolab.GameBiz,
		Region:     cfg.Hoyolab.Region,
		UID:        cfg.Hoyolab.UID,
		Cookie:     cfg.Hoyolab.Cookie,
		UserAgent:  cfg.Hoyolab.UserAgent,
		HTTPClient: &http.Client{Timeout: cfg.Hoyolab.Timeout},
		Logger:     logger,
	})

	a.reconciler = reconcile.New(reconcile.Config{
		Store:    a.store,
		Sources:  sources,
		Oracle:   client,
		Pacer:    oracle.NewPacer(cfg.Discovery.OraclePace),
		Notifier: a.notifier,
		Changed:  a.changed,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	a.revalidator = reconcile.NewRevalidator(reconcile.RevalidatorConfig{
		Store:   a.store,
		Oracle:  client,
		Pacer:   oracle.NewPacer(cfg.Revalidation.OraclePace),
		Exclude: cfg.Revalidation.Exclude,
		Changed: a.changed,
		Metrics: a.metrics,
		Logger:  logger,
	})

	if cfg.News.Enabled {
		a.news = news.NewService(news.ServiceConfig{
			Fetcher:   newshoyolab.New(cfg.News.Endpoint, nil),
			Store:     a.store,
			Languages: cfg.News.Languages,
			Logger:    logger,
		})
	}
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newScheduler registers the periodic jobs. With Redis addresses
// configured, every tick first takes a cluster-wide lock so only one
// replica runs each job.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	var locker *redislock.Locker
	if rc := a.cfg.Scheduler.Redis; len(rc.Addrs) > 0 {
		owner, err := a.home.InstanceID()
		if err != nil {
			return nil, fmt.Errorf("instance id: %w", err)
		}
		client := redis.NewUniversalClient(redislock.Options(rc.Addrs, rc.Username, rc.Password, rc.DB))
		a.closers = append(a.closers, client)
		locker = redislock.New(client, rc.LockTTL, owner)
		a.logger.Info("distributed job lock enabled", "addrs", rc.Addrs, "owner", owner)
	}

	cfg := scheduler.Config{Observer: a.metrics, Logger: a.logger}
	if locker != nil {
		cfg.Locker = locker
	}
	sched, err := scheduler.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := sched.AddJob(jobDiscovery, a.cfg.Discovery.Interval, func(ctx context.Context) error {
		_, err := a.reconciler.Run(ctx)
		return err
	}, true); err != nil {
		return nil, err
	}
	if err := sched.AddJob(jobRevalidation, a.cfg.Revalidation.Interval, func(ctx context.Context) error {
		_, err := a.revalidator.Run(ctx)
		return err
	}, false); err != nil {
		return nil, err
	}
	if a.news != nil {
		if err := sched.AddJob(jobNews, a.cfg.News.Interval, func(ctx context.Context) error {
			_, err := a.news.Refresh(ctx)
			return err
		}, true); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func (a *app) newServer(jobs server.JobLister) *server.Server {
	return server.New(server.Config{
		Store:      a.store,
		Jobs:       jobs,
		Metrics:    a.metrics,
		Throttle:   throttle.New(a.cfg.Throttle.MaxRequests, a.cfg.Throttle.Window),
		TrustProxy: a.cfg.Server.TrustProxy,
		Changed:    a.changed,
		Logger:     a.logger,
	})
}

// openStore opens the configured backend. A sqlite store without a path
// lives in the home directory.
func openStore(ctx context.Context, sc config.StoreConfig, hd home.Dir, logger *slog.Logger) (codestore.Store, error) {
	switch sc.Type {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		path := sc.Path
		if path == "" {
			if err := hd.EnsureExists(); err != nil {
				return nil, err
			}
			path = hd.DatabasePath()
		}
		return sqlite.NewStore(ctx, path, logger)
	case "postgres":
		return postgres.NewStore(ctx, postgres.Config{DSN: sc.DSN, Logger: logger})
	case "mongo":
		return mongo.NewStore(ctx, mongo.Config{URI: sc.URI, Database: sc.Database, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store type: %s", sc.Type)
	}
}

// resolveHome returns the home directory from the flag or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// loadConfig resolves the config file (explicit flag, else <home>/config.yaml
// when present, else defaults), applies flag overrides, and validates.
func loadConfig(homeFlag, configFlag, storeFlag string) (*config.Config, home.Dir, error) {
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return nil, home.Dir{}, fmt.Errorf("resolve home directory: %w", err)
	}

	path := configFlag
	if path == "" {
		if _, err := os.Stat(hd.ConfigPath()); err == nil {
			path = hd.ConfigPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, home.Dir{}, err
	}
	if storeFlag != "" {
		cfg.Store.Type = storeFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, home.Dir{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, hd, nil
}

// newLogger builds the base logger from the log section. The file name
// "home" selects the log file inside the home directory.
func newLogger(lc config.LogConfig, hd home.Dir) (*slog.Logger, io.Closer, error) {
	file := lc.File
	if file == "home" {
		if err := hd.EnsureExists(); err != nil {
			return nil, nil, err
		}
		file = hd.LogPath()
	}
	return logging.New(logging.Options{
		Level:      lc.Level,
		Format:     lc.Format,
		File:       file,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Components: lc.Components,
	})
}
