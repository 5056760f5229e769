package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"exam-deployment-service/internal/domain"
)

// AttemptService runs the participant side of an open deployment: it starts
// attempts, serves the questions and keeps draft answers.
type AttemptService struct {
	base
	deployments DeploymentRepository
	snapshots   SnapshotSource
	attempts    AttemptStore
	submissions SubmissionRepository
}

func NewAttemptService(deployments DeploymentRepository, snapshots SnapshotSource, attempts AttemptStore, submissions SubmissionRepository, opts ...Option) *AttemptService {
	return &AttemptService{
		base:        newBase(opts),
		deployments: deployments,
		snapshots:   snapshots,
		attempts:    attempts,
		submissions: submissions,
	}
}

// FetchQuestions starts an attempt on first call and returns the questions
// without their answers, together with the attempt's clock and counters.
func (s *AttemptService) FetchQuestions(ctx context.Context, deploymentID, submitterID string) (domain.AttemptView, error) {
	d, err := s.deployments.Get(ctx, deploymentID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	now := s.now()
	if err := requireOpen(d, now); err != nil {
		return domain.AttemptView{}, err
	}

	attempt, err := s.currentAttempt(ctx, deploymentID, submitterID, now)
	if err != nil {
		return domain.AttemptView{}, err
	}
	snapshot, err := s.snapshots.Snapshot(ctx, deploymentID)
	if err != nil {
		return domain.AttemptView{}, err
	}

	view := domain.AttemptView{
		DeploymentID:     deploymentID,
		ExamTitle:        snapshot.ExamTitle,
		Questions:        make([]domain.StudentQuestion, 0, len(snapshot.Questions)),
		SavedAnswers:     make(map[string]any, len(attempt.Answers)),
		ElapsedSeconds:   elapsedSeconds(attempt.StartedAt, now),
		RemainingSeconds: remainingSeconds(d, attempt.StartedAt, now),
		CheatingCount:    attempt.CheatingCount,
	}
	for i, q := range snapshot.Questions {
		view.Questions = append(view.Questions, domain.StudentQuestion{
			QuestionID: q.ID,
			Number:     i + 1,
			Type:       q.Type,
			Prompt:     q.Prompt,
			Supplement: q.Supplement,
			Options:    q.Options,
			BlankCount: q.BlankCount,
			Point:      q.Point,
		})
	}
	for id, a := range attempt.Answers {
		if a != nil {
			view.SavedAnswers[id] = a.Value()
		}
	}
	return view, nil
}

// currentAttempt returns the attempt in progress or starts a new one while
// the submitter still has submissions left.
func (s *AttemptService) currentAttempt(ctx context.Context, deploymentID, submitterID string, now time.Time) (domain.Attempt, error) {
	attempt, err := s.attempts.Get(ctx, deploymentID, submitterID)
	switch {
	case err == nil && !attempt.Completed:
		return attempt, nil
	case err != nil && !errors.Is(err, domain.ErrAttemptNotFound):
		return domain.Attempt{}, err
	}

	n, err := s.submissions.CountBySubmitter(ctx, deploymentID, submitterID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if n >= domain.MaxSubmissions {
		return domain.Attempt{}, domain.ErrAlreadySubmitted
	}

	attempt = domain.Attempt{
		DeploymentID: deploymentID,
		SubmitterID:  submitterID,
		StartedAt:    now,
		Answers:      domain.AnswerSheet{},
	}
	if err := s.attempts.Put(ctx, attempt); err != nil {
		return domain.Attempt{}, err
	}
	s.log.Info("attempt started", "deployment_id", deploymentID, "submitter_id", submitterID, "ordinal", n+1)
	return attempt, nil
}

// SaveAnswers merges draft answers into the attempt in progress. Entries
// for questions outside the snapshot are ignored.
func (s *AttemptService) SaveAnswers(ctx context.Context, deploymentID, submitterID string, raw map[string]json.RawMessage) (int, error) {
	d, err := s.deployments.Get(ctx, deploymentID)
	if err != nil {
		return 0, err
	}
	if err := requireOpen(d, s.now()); err != nil {
		return 0, err
	}
	attempt, err := s.attempts.Get(ctx, deploymentID, submitterID)
	if err != nil {
		return 0, err
	}
	if attempt.Completed {
		return 0, domain.ErrAttemptCompleted
	}

	snapshot, err := s.snapshots.Snapshot(ctx, deploymentID)
	if err != nil {
		return 0, err
	}
	draft := make(domain.AnswerSheet, len(raw))
	for id, value := range raw {
		q, ok := snapshot.Question(id)
		if !ok {
			continue
		}
		a, err := domain.ParseAnswer(q.Type, value)
		if err != nil {
			return 0, domain.Validation("answer for question %s: %v", id, err)
		}
		draft[id] = a
	}
	if len(draft) == 0 {
		return attempt.Answers.Answered(), nil
	}

	updated, err := s.attempts.MergeAnswers(ctx, deploymentID, submitterID, draft)
	if err != nil {
		return 0, err
	}
	return updated.Answers.Answered(), nil
}

// remainingSeconds is bounded by both the attempt duration and the window.
func remainingSeconds(d domain.Deployment, startedAt, now time.Time) int64 {
	deadline := startedAt.Add(time.Duration(d.DurationMinutes) * time.Minute)
	if d.CloseAt.Before(deadline) {
		deadline = d.CloseAt
	}
	return elapsedSeconds(now, deadline)
}

// Current returns the submitter's attempt without starting one.
func (s *AttemptService) Current(ctx context.Context, deploymentID, submitterID string) (domain.Attempt, error) {
	return s.attempts.Get(ctx, deploymentID, submitterID)
}
