// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/s0up/mlm/internal/auth"
	"github.com/s0up/mlm/internal/budget"
	"github.com/s0up/mlm/internal/buildinfo"
	"github.com/s0up/mlm/internal/cleaner"
	"github.com/s0up/mlm/internal/config"
	"github.com/s0up/mlm/internal/database"
	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/events"
	"github.com/s0up/mlm/internal/hooks"
	"github.com/s0up/mlm/internal/linker"
	"github.com/s0up/mlm/internal/logging"
	"github.com/s0up/mlm/internal/metrics"
	"github.com/s0up/mlm/internal/qbitclient"
	"github.com/s0up/mlm/internal/scheduler"
	"github.com/s0up/mlm/internal/selector"
	"github.com/s0up/mlm/internal/store"
	"github.com/s0up/mlm/internal/tracker"
	"github.com/s0up/mlm/internal/update"
	"github.com/s0up/mlm/internal/web"
)

// buildSchemaVersion labels backup manifests with the schema this binary
// expects, so a restored snapshot is self-describing.
var buildSchemaVersion = database.MinSchemaVersion.String()

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation daemon (default when no subcommand is given)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	mgr, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer mgr.Close()

	cfg := mgr.Current()
	if err := logging.Configure(cfg.LogLevel, cfg.LogPath, cfg.LogMaxSize, cfg.LogMaxBackups, isTerminal(os.Stdout.Fd())); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	if err := mgr.Watch(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	db, err := openDatabase(mgr)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.CheckForUpdates {
		checkForUpdates(cmd.Context())
	}

	st := store.New(db)
	eventsReader := events.NewReader(db)
	trackerClient := tracker.New(cfg.MamID)

	pool, err := connectInstances(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	oracle := budget.New(budget.Snapshot{})
	if snap, err := fetchBudgetSnapshot(cmd.Context(), trackerClient, cfg); err != nil {
		log.Warn().Err(err).Msg("serve: initial user_status fetch failed, starting with an empty budget snapshot")
	} else {
		oracle.Refresh(snap)
	}

	hook := hooks.New(cfg.PostLinkHook)
	cln := cleaner.New(st, pool, cfg.Library, cfg)
	lnk := linker.New(st, pool, cfg.Library, cfg, cln, hook)

	specs, err := config.BuildSearchSpecs(&cfg)
	if err != nil {
		return fmt.Errorf("build search specs: %w", err)
	}

	sched := scheduler.New()
	registerSelectorTasks(sched, specs, st, trackerClient, oracle, pool, cfg)
	sched.Register(scheduler.Task{
		Name:     "link",
		Interval: time.Duration(cfg.LinkIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			res := lnk.Run(ctx)
			log.Info().Int("linked", res.Linked).Int("skipped", res.Skipped).Int("errored", res.Errored).Msg("link tick complete")
			return nil
		},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(runCtx)
	defer sched.Stop()

	var metricsServer *metrics.Server
	if cfg.MetricsEnabled {
		metricsManager := metrics.NewManager(eventsReader, oracle)
		metricsServer = metrics.NewServer(metrics.AddrFrom(cfg.MetricsHost, cfg.MetricsPort), metricsManager)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	httpServer, err := buildHTTPServer(mgr, st, eventsReader, sched, cfg)
	if err != nil {
		return err
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("web: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("web server stopped")
		}
	}()

	waitForShutdown(mgr)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

func openDatabase(mgr *config.Manager) (*database.DB, error) {
	db, err := database.New(mgr.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.CheckSchemaVersion(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connectInstances decrypts every configured [[qbittorrent]] password and
// logs into the instance, per the "first configured qBittorrent instances,
// then everything else" startup order the teacher's own daemon follows.
func connectInstances(cfg domain.Config) (*qbitclient.Pool, error) {
	pool := qbitclient.NewPool()
	for _, inst := range cfg.QBittorrent {
		password, err := config.DecryptQbitPassword(cfg.SessionSecret, inst.PasswordEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt password for qbittorrent instance %q: %w", inst.Name, err)
		}
		if err := pool.Connect(qbitclient.InstanceConfig{
			Name:          inst.Name,
			Host:          inst.Host,
			Username:      inst.Username,
			Password:      password,
			BasicUsername: inst.BasicUsername,
			BasicPassword: inst.BasicPassword,
		}); err != nil {
			return nil, fmt.Errorf("connect qbittorrent instance %q: %w", inst.Name, err)
		}
	}
	return pool, nil
}

func fetchBudgetSnapshot(ctx context.Context, trackerClient *tracker.Client, cfg domain.Config) (budget.Snapshot, error) {
	status, err := trackerClient.UserStatus(ctx)
	if err != nil {
		return budget.Snapshot{}, err
	}
	return budget.Snapshot{
		UnsatUsed:         status.UnsatUsed,
		UnsatLimit:        status.UnsatLimit,
		Wedges:            status.Wedges,
		UploadedBytes:     status.UploadedBytes,
		DownloadedBytes:   status.DownloadedBytes,
		MinRatio:          cfg.MinRatio,
		GlobalUnsatBuffer: cfg.UnsatBuffer,
	}, nil
}

// firstHealthyClient picks the torrent-client instance a fresh grab is
// routed to: the first one in configuration order that currently passes
// health checks, per the Open Question decision recorded in DESIGN.md —
// nothing in spec.md ties a SearchSpec or LibraryRule to a specific
// instance, so an explicit per-spec instance knob has no referent.
func firstHealthyClient(pool *qbitclient.Pool, instances []domain.QbitInstance) (*qbitclient.Client, error) {
	for _, inst := range instances {
		if client, ok := pool.Get(inst.Name); ok {
			return client, nil
		}
	}
	return nil, errors.New("no healthy qbittorrent instance available")
}

func registerSelectorTasks(
	sched *scheduler.Scheduler,
	specs []domain.SearchSpec,
	st *store.Store,
	trackerClient *tracker.Client,
	oracle *budget.Oracle,
	pool *qbitclient.Pool,
	cfg domain.Config,
) {
	interval := time.Duration(cfg.SearchIntervalMinutes) * time.Minute

	for _, spec := range specs {
		sel := selector.New(st, trackerClient, oracle, st.CountActiveForSpec, cfg, cfg.Tag)

		sched.Register(scheduler.Task{
			Name:     "autograb:" + spec.Name,
			Interval: interval,
			Run: func(ctx context.Context) error {
				if snap, err := fetchBudgetSnapshot(ctx, trackerClient, cfg); err != nil {
					log.Warn().Err(err).Str("spec", spec.Name).Msg("refresh budget snapshot failed, using prior snapshot")
				} else {
					oracle.Refresh(snap)
				}

				client, err := firstHealthyClient(pool, cfg.QBittorrent)
				if err != nil {
					return err
				}

				res := sel.Run(ctx, &spec, client)
				log.Info().Str("spec", spec.Name).Int("grabbed", res.Grabbed).Int("skipped", res.Skipped).Int("errored", res.Errored).
					Msg("autograb tick complete")
				return nil
			},
		})
	}
}

func buildHTTPServer(mgr *config.Manager, st *store.Store, eventsReader *events.Reader, sched *scheduler.Scheduler, cfg domain.Config) (*http.Server, error) {
	authSvc := auth.NewService(mgr)
	handler := web.NewHandler(st, eventsReader, sched)

	protected := chi.NewRouter()
	protected.Use(authSvc.Middleware)
	if err := handler.RegisterRoutes(protected); err != nil {
		return nil, fmt.Errorf("register web routes: %w", err)
	}

	r := chi.NewRouter()
	r.Post("/auth/login", authSvc.HandleLogin)
	r.Post("/auth/logout", authSvc.HandleLogout)
	r.Mount("/", protected)

	return &http.Server{
		Addr:    metrics.AddrFrom(cfg.Host, cfg.Port),
		Handler: r,
	}, nil
}

func checkForUpdates(ctx context.Context) {
	checker := update.NewChecker(update.Config{
		Repository: "s0up4200/mlm",
		Version:    buildinfo.Version,
	})
	if _, err := checker.Check(ctx); err != nil {
		log.Warn().Err(err).Msg("update check failed")
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM. SIGHUP reloads the
// config through mgr and keeps waiting.
func waitForShutdown(mgr *config.Manager) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		if err := mgr.Reload(); err != nil {
			log.Error().Err(err).Msg("config reload on SIGHUP failed")
		}
	}
	log.Info().Msg("shutting down")
}
