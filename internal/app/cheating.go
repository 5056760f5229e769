package app

import (
	"context"

	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/grading"
)

// CheatingMonitor counts suspicious client events and force-completes the
// attempt once the threshold is reached.
type CheatingMonitor struct {
	base
	deployments DeploymentRepository
	snapshots   SnapshotSource
	attempts    AttemptStore
	finalizer   *SubmissionService
}

func NewCheatingMonitor(deployments DeploymentRepository, snapshots SnapshotSource, attempts AttemptStore, finalizer *SubmissionService, opts ...Option) *CheatingMonitor {
	return &CheatingMonitor{
		base:        newBase(opts),
		deployments: deployments,
		snapshots:   snapshots,
		attempts:    attempts,
		finalizer:   finalizer,
	}
}

// RecordEvent increments the attempt's cheating counter. The event that
// reaches domain.MaxCheatingEvents fills every unanswered question with an
// empty answer, grades the sheet and stores the submission.
func (m *CheatingMonitor) RecordEvent(ctx context.Context, deploymentID, submitterID string) (domain.CheatingOutcome, error) {
	d, err := m.deployments.Get(ctx, deploymentID)
	if err != nil {
		return domain.CheatingOutcome{}, err
	}
	if d.State(m.now()) == domain.StateClosed {
		return domain.CheatingOutcome{}, domain.ErrDeploymentClosed
	}

	attempt, err := m.attempts.Get(ctx, deploymentID, submitterID)
	if err != nil {
		return domain.CheatingOutcome{}, err
	}
	if attempt.Completed {
		return domain.CheatingOutcome{}, domain.ErrAttemptCompleted
	}

	count, err := m.attempts.IncrementCheating(ctx, deploymentID, submitterID)
	if err != nil {
		return domain.CheatingOutcome{}, err
	}
	m.log.Warn("cheating event", "deployment_id", deploymentID, "submitter_id", submitterID, "count", count)
	if count < domain.MaxCheatingEvents {
		return domain.CheatingOutcome{CheatingCount: count}, nil
	}

	claimed, err := m.attempts.MarkCompleted(ctx, deploymentID, submitterID)
	if err != nil {
		return domain.CheatingOutcome{}, err
	}
	if !claimed {
		return domain.CheatingOutcome{}, domain.ErrAttemptCompleted
	}

	sub, err := m.forceComplete(ctx, d, submitterID, count)
	if err != nil {
		if uerr := m.attempts.UnmarkCompleted(ctx, deploymentID, submitterID); uerr != nil {
			m.log.Error("release attempt after failed forced completion", "deployment_id", deploymentID, "submitter_id", submitterID, "error", uerr)
		}
		return domain.CheatingOutcome{}, err
	}
	return domain.CheatingOutcome{CheatingCount: count, ForcedCompleted: true, Submission: &sub}, nil
}

func (m *CheatingMonitor) forceComplete(ctx context.Context, d domain.Deployment, submitterID string, count int) (domain.Submission, error) {
	// Re-read so drafts saved while the counter moved are included.
	attempt, err := m.attempts.Get(ctx, d.ID, submitterID)
	if err != nil {
		return domain.Submission{}, err
	}
	snapshot, err := m.snapshots.Snapshot(ctx, d.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	return m.finalizer.finalize(ctx, d, snapshot, finalizeInput{
		submitterID:   submitterID,
		startedAt:     attempt.StartedAt,
		cheatingCount: count,
		answers:       CompleteSheet(snapshot, attempt.Answers),
		forced:        true,
	})
}

// CompleteSheet copies answers and adds an empty answer of the right shape
// for every snapshot question that has none.
func CompleteSheet(snapshot domain.Snapshot, answers domain.AnswerSheet) domain.AnswerSheet {
	sheet := make(domain.AnswerSheet, len(snapshot.Questions))
	for _, q := range snapshot.Questions {
		if a := answers[q.ID]; a != nil {
			sheet[q.ID] = a
			continue
		}
		sheet[q.ID] = grading.EmptyAnswer(q)
	}
	return sheet
}
