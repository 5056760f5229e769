package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-deployment-service/internal/domain"
	"github.com/uptrace/bun"
)

type submissionRow struct {
	bun.BaseModel `bun:"table:submissions"`

	ID              string    `bun:"id,pk"`
	DeploymentID    string    `bun:"deployment_id"`
	SubmitterID     string    `bun:"submitter_id"`
	Ordinal         int       `bun:"ordinal"`
	StartedAt       time.Time `bun:"started_at"`
	CheatingCount   int       `bun:"cheating_count"`
	Answers         string    `bun:"answers,type:jsonb"`
	Score           int       `bun:"score"`
	CorrectCount    int       `bun:"correct_count"`
	ForcedCompleted bool      `bun:"forced_completed"`
	CreatedAt       time.Time `bun:"created_at"`
}

func (r submissionRow) submission() (domain.Submission, error) {
	var answers domain.AnswerSheet
	if err := json.Unmarshal([]byte(r.Answers), &answers); err != nil {
		return domain.Submission{}, fmt.Errorf("decode answers of submission %s: %w", r.ID, err)
	}
	return domain.Submission{
		ID:              r.ID,
		DeploymentID:    r.DeploymentID,
		SubmitterID:     r.SubmitterID,
		Ordinal:         r.Ordinal,
		StartedAt:       r.StartedAt.UTC(),
		CheatingCount:   r.CheatingCount,
		Answers:         answers,
		Score:           r.Score,
		CorrectCount:    r.CorrectCount,
		ForcedCompleted: r.ForcedCompleted,
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}

// SubmissionRepository stores finalized submissions with bun. The
// (deployment, submitter, ordinal) unique constraint is the last line
// against a third submission.
type SubmissionRepository struct {
	db *bun.DB
}

func NewSubmissionRepository(db *bun.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) CountBySubmitter(ctx context.Context, deploymentID, submitterID string) (int, error) {
	n, err := r.db.NewSelect().
		Model((*submissionRow)(nil)).
		Where("deployment_id = ?", deploymentID).
		Where("submitter_id = ?", submitterID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

func (r *SubmissionRepository) CountByDeployment(ctx context.Context, deploymentID string) (int, error) {
	n, err := r.db.NewSelect().
		Model((*submissionRow)(nil)).
		Where("deployment_id = ?", deploymentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

func (r *SubmissionRepository) Create(ctx context.Context, s *domain.Submission) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext(?))`, s.DeploymentID+"/"+s.SubmitterID); err != nil {
			return fmt.Errorf("lock submitter: %w", err)
		}
		n, err := tx.NewSelect().
			Model((*submissionRow)(nil)).
			Where("deployment_id = ?", s.DeploymentID).
			Where("submitter_id = ?", s.SubmitterID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count submissions: %w", err)
		}
		if n >= domain.MaxSubmissions {
			return domain.ErrAlreadySubmitted
		}

		row := submissionRow{
			ID:              s.ID,
			DeploymentID:    s.DeploymentID,
			SubmitterID:     s.SubmitterID,
			Ordinal:         n + 1,
			StartedAt:       s.StartedAt,
			CheatingCount:   s.CheatingCount,
			Answers:         string(answers),
			Score:           s.Score,
			CorrectCount:    s.CorrectCount,
			ForcedCompleted: s.ForcedCompleted,
			CreatedAt:       s.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			switch code, constraint := pgCode(err); {
			case code == codeUniqueViolation && constraint == "submissions_attempt_key",
				code == codeCheckViolation && constraint == "submissions_ordinal_check":
				return domain.ErrAlreadySubmitted
			case code == codeForeignKeyViolation:
				return domain.ErrDeploymentNotFound
			}
			return fmt.Errorf("insert submission: %w", err)
		}
		s.Ordinal = row.Ordinal
		return nil
	})
}

func (r *SubmissionRepository) Get(ctx context.Context, submissionID string) (domain.Submission, error) {
	var row submissionRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", submissionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("load submission: %w", err)
	}
	return row.submission()
}

func (r *SubmissionRepository) ListByDeployment(ctx context.Context, deploymentID string) ([]domain.Submission, error) {
	var rows []submissionRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("deployment_id = ?", deploymentID).
		Order("submitter_id ASC", "ordinal ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]domain.Submission, 0, len(rows))
	for _, row := range rows {
		s, err := row.submission()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
