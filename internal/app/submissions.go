package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/grading"
	"github.com/google/uuid"
)

// SubmissionService grades answer sheets against the snapshot and stores
// the one immutable submission per attempt.
type SubmissionService struct {
	base
	deployments DeploymentRepository
	snapshots   SnapshotSource
	submissions SubmissionRepository
	attempts    AttemptStore
}

func NewSubmissionService(deployments DeploymentRepository, snapshots SnapshotSource, submissions SubmissionRepository, attempts AttemptStore, opts ...Option) *SubmissionService {
	return &SubmissionService{
		base:        newBase(opts),
		deployments: deployments,
		snapshots:   snapshots,
		submissions: submissions,
		attempts:    attempts,
	}
}

// SubmitInput is one submission request. A zero StartedAt takes the clock,
// cheating count and drafts from the attempt in progress.
type SubmitInput struct {
	DeploymentID  string
	SubmitterID   string
	StartedAt     time.Time
	CheatingCount int
	Answers       map[string]json.RawMessage
}

// Submit grades and stores a participant's answers. An attempt in progress
// is claimed before grading so a concurrent forced completion and a submit
// never both store a record for it.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (domain.Submission, error) {
	d, err := s.deployments.Get(ctx, in.DeploymentID)
	if err != nil {
		return domain.Submission{}, err
	}
	n, err := s.submissions.CountBySubmitter(ctx, d.ID, in.SubmitterID)
	if err != nil {
		return domain.Submission{}, err
	}
	if n >= domain.MaxSubmissions {
		return domain.Submission{}, domain.ErrAlreadySubmitted
	}

	claimed, err := s.claimAttempt(ctx, d.ID, in.SubmitterID, in.StartedAt.IsZero())
	if err != nil {
		return domain.Submission{}, err
	}
	sub, err := s.submit(ctx, d, in)
	if err != nil && claimed {
		if uerr := s.attempts.UnmarkCompleted(ctx, d.ID, in.SubmitterID); uerr != nil {
			s.log.Error("release attempt after failed submit", "deployment_id", d.ID, "submitter_id", in.SubmitterID, "error", uerr)
		}
	}
	return sub, err
}

// claimAttempt marks the attempt in progress completed. It reports false
// when there is no attempt in progress and the request carries its own
// clock.
func (s *SubmissionService) claimAttempt(ctx context.Context, deploymentID, submitterID string, needAttempt bool) (bool, error) {
	attempt, err := s.attempts.Get(ctx, deploymentID, submitterID)
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound):
		if needAttempt {
			return false, domain.Validation("started_at is required without an attempt in progress")
		}
		return false, nil
	case err != nil:
		return false, err
	case attempt.Completed:
		if needAttempt {
			return false, domain.ErrAttemptCompleted
		}
		return false, nil
	}

	ok, err := s.attempts.MarkCompleted(ctx, deploymentID, submitterID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrAttemptCompleted
	}
	return true, nil
}

func (s *SubmissionService) submit(ctx context.Context, d domain.Deployment, in SubmitInput) (domain.Submission, error) {
	if in.StartedAt.IsZero() {
		var err error
		if in, err = s.fromAttempt(ctx, in); err != nil {
			return domain.Submission{}, err
		}
	}
	if in.StartedAt.After(s.now()) {
		return domain.Submission{}, domain.Validation("started_at is in the future")
	}
	if in.CheatingCount < 0 {
		return domain.Submission{}, domain.Validation("cheating_count must not be negative")
	}

	snapshot, err := s.snapshots.Snapshot(ctx, d.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	return s.finalize(ctx, d, snapshot, finalizeInput{
		submitterID:   in.SubmitterID,
		startedAt:     in.StartedAt,
		cheatingCount: in.CheatingCount,
		answers:       NormalizeAnswers(snapshot, in.Answers),
	})
}

// fromAttempt completes a submission that did not carry its own clock with
// the claimed attempt: its start time, its cheating count and the saved
// drafts for questions the request left out.
func (s *SubmissionService) fromAttempt(ctx context.Context, in SubmitInput) (SubmitInput, error) {
	attempt, err := s.attempts.Get(ctx, in.DeploymentID, in.SubmitterID)
	if err != nil {
		return in, err
	}

	in.StartedAt = attempt.StartedAt
	in.CheatingCount = attempt.CheatingCount
	merged := make(map[string]json.RawMessage, len(in.Answers)+len(attempt.Answers))
	for id, a := range attempt.Answers {
		if a == nil {
			continue
		}
		raw, err := json.Marshal(a.Value())
		if err != nil {
			return in, fmt.Errorf("encode draft %s: %w", id, err)
		}
		merged[id] = raw
	}
	for id, raw := range in.Answers {
		merged[id] = raw
	}
	in.Answers = merged
	return in, nil
}

// ListSubmissions summarizes every submission of a deployment.
func (s *SubmissionService) ListSubmissions(ctx context.Context, deploymentID string) ([]domain.SubmissionSummary, error) {
	if _, err := s.deployments.Get(ctx, deploymentID); err != nil {
		return nil, err
	}
	subs, err := s.submissions.ListByDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.Snapshot(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SubmissionSummary, 0, len(subs))
	for _, sub := range subs {
		summary, err := BuildSummary(sub, snapshot)
		if err != nil {
			s.log.Warn("skip corrupt submission", "submission_id", sub.ID, "error", err)
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

type finalizeInput struct {
	submitterID   string
	startedAt     time.Time
	cheatingCount int
	answers       domain.AnswerSheet
	forced        bool
}

// finalize grades a complete sheet and persists it. Both the submit path
// and forced completion end here.
func (s *SubmissionService) finalize(ctx context.Context, d domain.Deployment, snapshot domain.Snapshot, in finalizeInput) (domain.Submission, error) {
	graded := grading.GradeSheet(snapshot, in.answers)
	sub := domain.Submission{
		ID:              uuid.NewString(),
		DeploymentID:    d.ID,
		SubmitterID:     in.submitterID,
		StartedAt:       in.startedAt.UTC(),
		CheatingCount:   in.cheatingCount,
		Answers:         in.answers,
		Score:           graded.Score,
		CorrectCount:    graded.CorrectCount,
		ForcedCompleted: in.forced,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.submissions.Create(ctx, &sub); err != nil {
		return domain.Submission{}, err
	}
	s.log.Info("submission stored",
		"submission_id", sub.ID, "deployment_id", d.ID, "submitter_id", sub.SubmitterID,
		"ordinal", sub.Ordinal, "score", sub.Score, "forced", sub.ForcedCompleted)
	return sub, nil
}

// NormalizeAnswers builds a sheet with one entry per snapshot question.
// Unanswered and unparsable entries become nil; ids outside the snapshot
// are dropped.
func NormalizeAnswers(snapshot domain.Snapshot, raw map[string]json.RawMessage) domain.AnswerSheet {
	sheet := make(domain.AnswerSheet, len(snapshot.Questions))
	for _, q := range snapshot.Questions {
		value, ok := raw[q.ID]
		if !ok {
			sheet[q.ID] = nil
			continue
		}
		a, err := domain.ParseAnswer(q.Type, value)
		if err != nil {
			a = nil
		}
		sheet[q.ID] = a
	}
	return sheet
}
