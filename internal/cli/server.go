package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/config"
	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/infra/memory"
	"exam-deployment-service/internal/infra/postgres"
	redisinfra "exam-deployment-service/internal/infra/redis"
	transport "exam-deployment-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, log)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("jwt secret not configured")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	services := app.NewServices(deps, app.WithLogger(log))
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           transport.NewRouter(services, transport.NewAuthenticator(cfg.Auth.JWTSecret), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting exam service", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildDeps picks postgres or in-memory storage and redis or in-process
// caches depending on what is configured.
func buildDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (app.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var deps app.Deps
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return deps, cleanup, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return deps, cleanup, err
		}
		closers = append(closers, pool.Close)
		db := postgres.NewDB(cfg.Postgres.URL)
		closers = append(closers, func() { _ = db.Close() })

		catalog := postgres.NewCatalog(pool)
		if err := seedCatalog(ctx, catalog, cfg, log); err != nil {
			cleanup()
			return deps, func() {}, err
		}
		deps = app.Deps{
			Catalog:     catalog,
			Questions:   postgres.NewQuestionRepository(pool),
			Deployments: postgres.NewDeploymentRepository(db),
			Submissions: postgres.NewSubmissionRepository(db),
		}
	} else {
		log.Warn("postgres not configured, using in-memory storage")
		store := memory.NewStore()
		for _, e := range cfg.Catalog.Exams {
			store.PutExam(domain.Exam{ID: e.ID, CourseID: e.CourseID, Title: e.Title})
		}
		for _, c := range cfg.Catalog.Cohorts {
			store.PutCohort(domain.Cohort{ID: c.ID, CourseID: c.CourseID})
		}
		deps = store.Deps(nil)
	}

	snapshotTTL, err := config.Duration(cfg.Cache.SnapshotTTL, config.DefaultSnapshotTTL)
	if err != nil {
		cleanup()
		return deps, func() {}, fmt.Errorf("snapshot ttl: %w", err)
	}
	attemptTTL, err := config.Duration(cfg.Redis.AttemptTTL, config.DefaultAttemptTTL)
	if err != nil {
		cleanup()
		return deps, func() {}, fmt.Errorf("attempt ttl: %w", err)
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return deps, func() {}, err
		}
		deps.Snapshots = redisinfra.NewSnapshotCache(client, deps.Deployments, snapshotTTL, log)
		deps.Attempts = redisinfra.NewAttemptStore(client, attemptTTL)
	} else {
		deps.Snapshots = memory.NewSnapshotCache(deps.Deployments, snapshotTTL)
		deps.Attempts = memory.NewAttemptStore()
	}
	return deps, cleanup, nil
}
