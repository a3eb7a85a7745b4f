// Command starrail-api aggregates Honkai: Star Rail redemption codes and
// serves them over HTTP.
//
// Logging:
//   - Base logger is created here from the log config section
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are the persistent flags every command reads.
type globalFlags struct {
	home   string
	config string
	store  string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:          "starrail-api",
		Short:        "Honkai: Star Rail redemption code aggregator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&gf.home, "home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&gf.config, "config", "", "config file (default: <home>/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&gf.store, "store", "", "override store.type: sqlite, postgres, mongo, or memory")

	rootCmd.AddCommand(
		newServerCmd(&gf),
		newReconcileCmd(&gf),
		newRevalidateCmd(&gf),
		newNewsCmd(&gf),
		newCodesCmd(&gf),
		newVersionCmd(),
	)
	return rootCmd
}

// withApp loads configuration, builds the logger and the app, runs fn, and
// tears everything down. ctx is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, gf *globalFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, hd, err := loadConfig(gf.home, gf.config, gf.store)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg.Log, hd)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, hd, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()
	return fn(ctx, a)
}

func newServerCmd(gf *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Address()
				}
				return runServer(ctx, a, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.host:server.port)")
	return cmd
}

func newReconcileCmd(gf *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one discovery pass and print the resulting code lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				split, err := a.reconciler.Run(ctx)
				if err != nil {
					return err
				}
				return newPrinter(format, cmd.OutOrStdout()).split(split)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table or json")
	return cmd
}

func newRevalidateCmd(gf *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "revalidate",
		Short: "Re-check every active code once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				rep, err := a.revalidator.Run(ctx)
				if perr := newPrinter(format, cmd.OutOrStdout()).revalidation(rep); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table or json")
	return cmd
}

func newNewsCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "news",
		Short: "Refresh the news cache once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				if a.news == nil {
					return errors.New("news is disabled (news.enabled: false)")
				}
				rep, err := a.news.Refresh(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "fetched %d items, failed languages: %v\n", rep.Fetched, rep.Failed)
				return err
			})
		},
	}
}

func newCodesCmd(gf *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Print the stored codes without contacting any source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				all, err := a.store.ReadAll(ctx)
				if err != nil {
					return err
				}
				return newPrinter(format, cmd.OutOrStdout()).records(all)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table or json")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// runServer starts the scheduler and the HTTP server and blocks until ctx
// is cancelled or the listener fails. Shutdown stops accepting requests
// first, then waits for running jobs.
func runServer(ctx context.Context, a *app, addr string) error {
	sched, err := a.newScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	srv := a.newServer(sched)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	sched.Start()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			a.logger.Error("server failed", "error", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Stop(stopCtx); serr != nil {
		a.logger.Warn("server stop", "error", serr)
	}
	if serr := sched.Stop(); serr != nil {
		a.logger.Warn("scheduler stop", "error", serr)
	}
	a.logger.Info("shutdown complete")
	return err
}
