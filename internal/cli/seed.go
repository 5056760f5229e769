package cli

import (
	"context"
	"errors"
	"log/slog"

	"exam-deployment-service/internal/config"
	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewSeedCmd writes the configured catalog into postgres.
func NewSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load catalog exams and cohorts from config into postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errors.New("postgres url not configured")
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			return seedCatalog(cmd.Context(), postgres.NewCatalog(pool), cfg, log)
		},
	}
}

type catalogWriter interface {
	PutExam(ctx context.Context, e domain.Exam) error
	PutCohort(ctx context.Context, c domain.Cohort) error
}

func seedCatalog(ctx context.Context, w catalogWriter, cfg config.Config, log *slog.Logger) error {
	for _, e := range cfg.Catalog.Exams {
		if err := w.PutExam(ctx, domain.Exam{ID: e.ID, CourseID: e.CourseID, Title: e.Title}); err != nil {
			return err
		}
	}
	for _, c := range cfg.Catalog.Cohorts {
		if err := w.PutCohort(ctx, domain.Cohort{ID: c.ID, CourseID: c.CourseID}); err != nil {
			return err
		}
	}
	log.Info("catalog seeded", "exams", len(cfg.Catalog.Exams), "cohorts", len(cfg.Catalog.Cohorts))
	return nil
}
