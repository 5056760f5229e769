package postgres

import (
	"context"
	"errors"
	"fmt"

	"exam-deployment-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Catalog reads the exams and cohorts replicated from the course subsystem.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	var e domain.Exam
	err := c.pool.QueryRow(ctx, `SELECT id, course_id, title FROM exams WHERE id=$1`, examID).
		Scan(&e.ID, &e.CourseID, &e.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load exam: %w", err)
	}
	return e, nil
}

func (c *Catalog) GetCohort(ctx context.Context, cohortID string) (domain.Cohort, error) {
	var co domain.Cohort
	err := c.pool.QueryRow(ctx, `SELECT id, course_id FROM cohorts WHERE id=$1`, cohortID).
		Scan(&co.ID, &co.CourseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cohort{}, domain.ErrCohortNotFound
	}
	if err != nil {
		return domain.Cohort{}, fmt.Errorf("load cohort: %w", err)
	}
	return co, nil
}

// PutExam upserts an exam as replicated from the course subsystem.
func (c *Catalog) PutExam(ctx context.Context, e domain.Exam) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO exams (id, course_id, title) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET course_id=EXCLUDED.course_id, title=EXCLUDED.title`,
		e.ID, e.CourseID, e.Title)
	if err != nil {
		return fmt.Errorf("save exam: %w", err)
	}
	return nil
}

func (c *Catalog) PutCohort(ctx context.Context, co domain.Cohort) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO cohorts (id, course_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET course_id=EXCLUDED.course_id`,
		co.ID, co.CourseID)
	if err != nil {
		return fmt.Errorf("save cohort: %w", err)
	}
	return nil
}
