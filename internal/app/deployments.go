package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"exam-deployment-service/internal/domain"
	"github.com/google/uuid"
)

const (
	accessCodeLength   = 8
	accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	accessCodeRetries  = 5
)

// DeploymentService owns deployment records and their valid transitions.
type DeploymentService struct {
	base
	catalog     Catalog
	snapshots   *SnapshotBuilder
	repo        DeploymentRepository
	source      SnapshotSource
	submissions SubmissionRepository
}

func NewDeploymentService(catalog Catalog, snapshots *SnapshotBuilder, repo DeploymentRepository, source SnapshotSource, submissions SubmissionRepository, opts ...Option) *DeploymentService {
	return &DeploymentService{
		base:        newBase(opts),
		catalog:     catalog,
		snapshots:   snapshots,
		repo:        repo,
		source:      source,
		submissions: submissions,
	}
}

type CreateDeploymentInput struct {
	CohortID        string
	ExamID          string
	DurationMinutes int
	OpenAt          time.Time
	CloseAt         time.Time
}

// PatchDeploymentInput carries the fields to change; nil means keep.
type PatchDeploymentInput struct {
	OpenAt          *time.Time
	CloseAt         *time.Time
	DurationMinutes *int
}

// Create schedules an exam for a cohort and freezes its questions.
func (s *DeploymentService) Create(ctx context.Context, in CreateDeploymentInput) (domain.Deployment, error) {
	now := s.now()
	if err := domain.ValidateWindow(in.OpenAt, in.CloseAt, in.DurationMinutes); err != nil {
		return domain.Deployment{}, err
	}
	if in.OpenAt.Before(now) {
		return domain.Deployment{}, domain.Validation("open_at must not be in the past")
	}

	exam, err := s.catalog.GetExam(ctx, in.ExamID)
	if err != nil {
		return domain.Deployment{}, err
	}
	cohort, err := s.catalog.GetCohort(ctx, in.CohortID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if exam.CourseID != cohort.CourseID {
		return domain.Deployment{}, domain.Validation("exam and cohort belong to different courses")
	}

	snapshot, err := s.snapshots.Build(ctx, exam)
	if err != nil {
		return domain.Deployment{}, err
	}

	for i := 0; i < accessCodeRetries; i++ {
		code, err := newAccessCode()
		if err != nil {
			return domain.Deployment{}, err
		}
		d := domain.Deployment{
			ID:              uuid.NewString(),
			ExamID:          exam.ID,
			CohortID:        cohort.ID,
			AccessCode:      code,
			OpenAt:          in.OpenAt.UTC(),
			CloseAt:         in.CloseAt.UTC(),
			DurationMinutes: in.DurationMinutes,
			Activation:      domain.Activated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = s.repo.Create(ctx, d, snapshot, now)
		if errors.Is(err, domain.ErrDuplicateAccessCode) {
			continue
		}
		if err != nil {
			return domain.Deployment{}, err
		}
		s.log.Info("deployment created",
			"deployment_id", d.ID, "exam_id", d.ExamID, "cohort_id", d.CohortID,
			"questions", len(snapshot.Questions), "total_points", snapshot.TotalPoints())
		return d, nil
	}
	return domain.Deployment{}, fmt.Errorf("generate access code: %d collisions in a row", accessCodeRetries)
}

func (s *DeploymentService) Get(ctx context.Context, deploymentID string) (domain.Deployment, error) {
	return s.repo.Get(ctx, deploymentID)
}

// Snapshot returns the frozen questions, canonical answers included.
func (s *DeploymentService) Snapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error) {
	if _, err := s.repo.Get(ctx, deploymentID); err != nil {
		return domain.Snapshot{}, err
	}
	return s.source.Snapshot(ctx, deploymentID)
}

// Patch changes the schedule. open_at is frozen once the window started;
// the merged schedule must still be valid.
func (s *DeploymentService) Patch(ctx context.Context, deploymentID string, in PatchDeploymentInput) (domain.Deployment, error) {
	d, err := s.repo.Get(ctx, deploymentID)
	if err != nil {
		return domain.Deployment{}, err
	}
	now := s.now()

	merged := d
	if in.OpenAt != nil && !in.OpenAt.Equal(d.OpenAt) {
		if d.Started(now) {
			return domain.Deployment{}, domain.Validation("open_at cannot change after the deployment started")
		}
		if in.OpenAt.Before(now) {
			return domain.Deployment{}, domain.Validation("open_at must not be in the past")
		}
		merged.OpenAt = in.OpenAt.UTC()
	}
	if in.CloseAt != nil && !in.CloseAt.Equal(d.CloseAt) {
		if d.State(now) == domain.StateClosed {
			return domain.Deployment{}, domain.Validation("a closed deployment cannot be reopened")
		}
		merged.CloseAt = in.CloseAt.UTC()
	}
	if in.DurationMinutes != nil {
		merged.DurationMinutes = *in.DurationMinutes
	}
	if err := domain.ValidateWindow(merged.OpenAt, merged.CloseAt, merged.DurationMinutes); err != nil {
		return domain.Deployment{}, err
	}

	merged.UpdatedAt = now
	if err := s.repo.Update(ctx, merged); err != nil {
		return domain.Deployment{}, err
	}
	return merged, nil
}

// SetActivation flips the activation flag. Deactivating an open deployment
// pulls close_at back to now so every session reads as closed.
func (s *DeploymentService) SetActivation(ctx context.Context, deploymentID string, desired domain.Activation) (domain.Deployment, error) {
	if !desired.Valid() {
		return domain.Deployment{}, domain.Validation("unknown activation %q", desired)
	}
	d, err := s.repo.Get(ctx, deploymentID)
	if err != nil {
		return domain.Deployment{}, err
	}
	now := s.now()

	if desired == d.Activation {
		return domain.Deployment{}, domain.ErrActivationUnchanged
	}
	if !now.Before(d.CloseAt) {
		return domain.Deployment{}, domain.Validation("deployment already closed")
	}
	if desired == domain.Activated {
		return domain.Deployment{}, domain.Validation("a deactivated deployment cannot be activated again")
	}

	d.Activation = domain.Deactivated
	if d.Started(now) {
		d.CloseAt = now
	}
	d.UpdatedAt = now
	if err := s.repo.Update(ctx, d); err != nil {
		return domain.Deployment{}, err
	}
	s.log.Info("deployment deactivated", "deployment_id", d.ID, "close_at", d.CloseAt)
	return d, nil
}

// Delete removes a deployment that has neither started nor been taken.
func (s *DeploymentService) Delete(ctx context.Context, deploymentID string) error {
	d, err := s.repo.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Started(s.now()) {
		return domain.Validation("deployment already started")
	}
	n, err := s.submissions.CountByDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ErrDeploymentHasSubmissions
	}
	if err := s.repo.Delete(ctx, deploymentID); err != nil {
		return err
	}
	if ev, ok := s.source.(SnapshotEvicter); ok {
		if err := ev.Forget(ctx, deploymentID); err != nil {
			s.log.Warn("evict cached snapshot", "deployment_id", deploymentID, "error", err)
		}
	}
	s.log.Info("deployment deleted", "deployment_id", deploymentID)
	return nil
}

func newAccessCode() (string, error) {
	limit := big.NewInt(int64(len(accessCodeAlphabet)))
	code := make([]byte, accessCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		code[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
