package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam-deployment-service/internal/domain"
	"github.com/uptrace/bun"
)

type deploymentRow struct {
	bun.BaseModel `bun:"table:deployments"`

	ID              string    `bun:"id,pk"`
	ExamID          string    `bun:"exam_id"`
	CohortID        string    `bun:"cohort_id"`
	AccessCode      string    `bun:"access_code"`
	OpenAt          time.Time `bun:"open_at"`
	CloseAt         time.Time `bun:"close_at"`
	DurationMinutes int       `bun:"duration_minutes"`
	Activation      string    `bun:"activation"`
	Snapshot        string    `bun:"snapshot,type:jsonb"`
	CreatedAt       time.Time `bun:"created_at"`
	UpdatedAt       time.Time `bun:"updated_at"`
}

func (r deploymentRow) deployment() domain.Deployment {
	return domain.Deployment{
		ID:              r.ID,
		ExamID:          r.ExamID,
		CohortID:        r.CohortID,
		AccessCode:      r.AccessCode,
		OpenAt:          r.OpenAt.UTC(),
		CloseAt:         r.CloseAt.UTC(),
		DurationMinutes: r.DurationMinutes,
		Activation:      domain.Activation(r.Activation),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func newDeploymentRow(d domain.Deployment) deploymentRow {
	return deploymentRow{
		ID:              d.ID,
		ExamID:          d.ExamID,
		CohortID:        d.CohortID,
		AccessCode:      d.AccessCode,
		OpenAt:          d.OpenAt,
		CloseAt:         d.CloseAt,
		DurationMinutes: d.DurationMinutes,
		Activation:      string(d.Activation),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// DeploymentRepository stores deployments and their snapshot with bun.
type DeploymentRepository struct {
	db *bun.DB
}

func NewDeploymentRepository(db *bun.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// Create serializes creations per exam and cohort with a transaction-scoped
// advisory lock, then checks for a pending activated deployment.
func (r *DeploymentRepository) Create(ctx context.Context, d domain.Deployment, snapshot domain.Snapshot, now time.Time) error {
	encoded, err := domain.EncodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	row := newDeploymentRow(d)
	row.Snapshot = string(encoded)

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext(?))`, d.ExamID+"/"+d.CohortID); err != nil {
			return fmt.Errorf("lock exam cohort: %w", err)
		}
		pending, err := tx.NewSelect().
			Model((*deploymentRow)(nil)).
			Where("exam_id = ?", d.ExamID).
			Where("cohort_id = ?", d.CohortID).
			Where("activation = ?", string(domain.Activated)).
			Where("open_at > ?", now).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check pending deployments: %w", err)
		}
		if pending {
			return domain.ErrDuplicateDeployment
		}

		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			code, constraint := pgCode(err)
			switch {
			case code == codeUniqueViolation && constraint == "deployments_access_code_key":
				return domain.ErrDuplicateAccessCode
			case code == codeForeignKeyViolation:
				return domain.NotFound("exam or cohort not found")
			}
			return fmt.Errorf("insert deployment: %w", err)
		}
		return nil
	})
}

func (r *DeploymentRepository) Get(ctx context.Context, deploymentID string) (domain.Deployment, error) {
	var row deploymentRow
	err := r.db.NewSelect().
		Model(&row).
		ExcludeColumn("snapshot").
		Where("id = ?", deploymentID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Deployment{}, domain.ErrDeploymentNotFound
	}
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("load deployment: %w", err)
	}
	return row.deployment(), nil
}

func (r *DeploymentRepository) Update(ctx context.Context, d domain.Deployment) error {
	row := newDeploymentRow(d)
	res, err := r.db.NewUpdate().
		Model(&row).
		Column("open_at", "close_at", "duration_minutes", "activation", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDeploymentNotFound
	}
	return nil
}

func (r *DeploymentRepository) Delete(ctx context.Context, deploymentID string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := tx.NewSelect().
			Model((*submissionRow)(nil)).
			Where("deployment_id = ?", deploymentID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count submissions: %w", err)
		}
		if n > 0 {
			return domain.ErrDeploymentHasSubmissions
		}
		res, err := tx.NewDelete().
			Model((*deploymentRow)(nil)).
			Where("id = ?", deploymentID).
			Exec(ctx)
		if err != nil {
			if code, _ := pgCode(err); code == codeForeignKeyViolation {
				return domain.ErrDeploymentHasSubmissions
			}
			return fmt.Errorf("delete deployment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrDeploymentNotFound
		}
		return nil
	})
}

func (r *DeploymentRepository) LoadSnapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error) {
	var raw string
	err := r.db.NewSelect().
		Model((*deploymentRow)(nil)).
		Column("snapshot").
		Where("id = ?", deploymentID).
		Scan(ctx, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrDeploymentNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return domain.DecodeSnapshot([]byte(raw))
}
