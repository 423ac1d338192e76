package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/bucketsvc/internal/auth"
	"github.com/abduss/bucketsvc/internal/blob"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/abduss/bucketsvc/internal/config"
	"github.com/abduss/bucketsvc/internal/file"
	"github.com/abduss/bucketsvc/internal/logger"
	"github.com/abduss/bucketsvc/internal/metrics"
	"github.com/abduss/bucketsvc/internal/quota"
	"github.com/abduss/bucketsvc/internal/reconcile"
	"github.com/abduss/bucketsvc/internal/server"
	"github.com/abduss/bucketsvc/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired storage engine.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	pool    *pgxpool.Pool
	blobs   blob.Store
	buckets *bucket.Repository
	files   *file.Repository
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bucketsvc",
		Short:         "Per-user bucket storage service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd)
		},
	}

	var fix bool
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check buckets, file records and blobs for inconsistencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, fix)
		},
	}
	reconcileCmd.Flags().BoolVar(&fix, "fix", false, "repair drifted aggregates and remove orphan blobs")

	root.AddCommand(serveCmd, migrateCmd, reconcileCmd)
	return root
}

// bootstrap loads configuration and opens the backing stores.
func bootstrap(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lg, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zerolog.DefaultContextLogger = &lg

	pool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	blobs, err := storage.OpenBlobStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     lg,
		pool:    pool,
		blobs:   blobs,
		buckets: bucket.NewRepository(pool),
		files:   file.NewRepository(pool),
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(a.buckets, a.files, a.blobs, reconcile.Options{
		OrphanGrace: a.cfg.Reconcile.OrphanGrace,
	})
}

func runMigrate(cmd *cobra.Command) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	applied, err := storage.Migrate(cmd.Context(), a.pool)
	if err != nil {
		return err
	}
	for _, version := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), "applied", version)
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, fix bool) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := a.log.WithContext(cmd.Context())
	report, err := a.reconciler().Run(ctx, fix || a.cfg.Reconcile.Fix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "buckets: %d, files: %d\n", report.Buckets, report.Files)
	for _, d := range report.Drift {
		fmt.Fprintf(out, "drift   %s/%s: cached %d files %d bytes, actual %d files %d bytes, repaired=%t\n",
			d.OwnerID, d.Name, d.Cached.FileCount, d.Cached.TotalSize, d.Actual.FileCount, d.Actual.TotalSize, d.Repaired)
	}
	for _, m := range report.MissingBlobs {
		fmt.Fprintf(out, "missing %s (file %s)\n", m.Location, m.FileID)
	}
	for _, o := range report.OrphanBlobs {
		fmt.Fprintf(out, "orphan  %s (%d bytes), removed=%t\n", o.Location, o.Size, o.Removed)
	}
	if report.Clean() {
		fmt.Fprintln(out, "no inconsistencies found")
	}
	return nil
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	ctx = a.log.WithContext(ctx)

	metrics.InitMetrics()

	if _, err := storage.Migrate(ctx, a.pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	authService := auth.NewService(auth.NewRepository(a.pool), a.cfg.Auth)
	created, err := authService.EnsureAdmin(ctx, a.cfg.Admin)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if created {
		a.log.Info().Str("username", a.cfg.Admin.Username).Msg("admin user created")
	}

	ledger := quota.NewLedger(a.buckets, a.cfg.Quota.LimitBytes)
	bucketService := bucket.NewService(a.buckets, a.files, a.blobs)
	fileService := file.NewService(a.files, a.buckets, ledger, a.blobs, a.cfg.Quota.MaxUploadBytes)

	if a.cfg.Reconcile.Cron != "" {
		scheduler, err := reconcile.Schedule(ctx, a.reconciler(), a.cfg.Reconcile.Cron)
		if err != nil {
			return fmt.Errorf("schedule reconcile: %w", err)
		}
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				a.log.Error().Err(err).Msg("scheduler shutdown")
			}
		}()
	}

	router := server.NewRouter(server.Dependencies{
		Config:        a.cfg,
		DB:            a.pool,
		Blobs:         a.blobs,
		AuthService:   authService,
		BucketService: bucketService,
		FileService:   fileService,
		Ledger:        ledger,
	})

	httpServer := &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info().
			Str("addr", a.cfg.Server.Address()).
			Str("storage", a.cfg.Storage.Driver).
			Int64("quota_bytes", a.cfg.Quota.LimitBytes).
			Msg("bucketsvc listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
