package app

import (
	"context"

	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/grading"
)

// ResultBuilder re-derives result views from a stored submission and the
// deployment snapshot.
type ResultBuilder struct {
	base
	submissions SubmissionRepository
	snapshots   SnapshotSource
}

func NewResultBuilder(submissions SubmissionRepository, snapshots SnapshotSource, opts ...Option) *ResultBuilder {
	return &ResultBuilder{base: newBase(opts), submissions: submissions, snapshots: snapshots}
}

// GetResult returns the result view to the submitter or an admin.
func (b *ResultBuilder) GetResult(ctx context.Context, submissionID string, auth AuthContext) (domain.ResultView, error) {
	sub, err := b.submissions.Get(ctx, submissionID)
	if err != nil {
		return domain.ResultView{}, err
	}
	if auth == nil || (auth.CurrentUserID() != sub.SubmitterID && !auth.HasRole(RoleAdmin)) {
		return domain.ResultView{}, domain.Forbidden("result belongs to another participant")
	}
	snapshot, err := b.snapshots.Snapshot(ctx, sub.DeploymentID)
	if err != nil {
		return domain.ResultView{}, err
	}
	return BuildResult(sub, snapshot)
}

// BuildResult grades every snapshot question again instead of trusting any
// stored per-question flag, so the view always agrees with the score.
func BuildResult(sub domain.Submission, snapshot domain.Snapshot) (domain.ResultView, error) {
	if sub.StartedAt.After(sub.CreatedAt) {
		return domain.ResultView{}, domain.ErrCorruptSession
	}

	view := domain.ResultView{
		SubmissionID:   sub.ID,
		ExamTitle:      snapshot.ExamTitle,
		TotalScore:     snapshot.TotalPoints(),
		Score:          sub.Score,
		CheatingCount:  sub.CheatingCount,
		ElapsedSeconds: elapsedSeconds(sub.StartedAt, sub.CreatedAt),
		Questions:      make([]domain.ResultQuestion, 0, len(snapshot.Questions)),
	}
	for i, q := range snapshot.Questions {
		submitted := sub.Answers[q.ID]
		view.Questions = append(view.Questions, domain.ResultQuestion{
			QuestionID:      q.ID,
			Number:          i + 1,
			Type:            q.Type,
			Prompt:          q.Prompt,
			Options:         q.Options,
			Point:           q.Point,
			SubmittedAnswer: submitted,
			CorrectAnswer:   q.Answer,
			IsCorrect:       grading.Grade(q, submitted).IsCorrect,
			Explanation:     q.Explanation,
		})
	}
	return view, nil
}

// BuildSummary is the elapsed-time and score overview of a submission.
func BuildSummary(sub domain.Submission, snapshot domain.Snapshot) (domain.SubmissionSummary, error) {
	if sub.StartedAt.After(sub.CreatedAt) {
		return domain.SubmissionSummary{}, domain.ErrCorruptSession
	}
	return domain.SubmissionSummary{
		SubmissionID:    sub.ID,
		SubmitterID:     sub.SubmitterID,
		Ordinal:         sub.Ordinal,
		Score:           sub.Score,
		TotalScore:      snapshot.TotalPoints(),
		CorrectCount:    sub.CorrectCount,
		QuestionCount:   len(snapshot.Questions),
		ElapsedSeconds:  elapsedSeconds(sub.StartedAt, sub.CreatedAt),
		CheatingCount:   sub.CheatingCount,
		ForcedCompleted: sub.ForcedCompleted,
		SubmittedAt:     sub.CreatedAt,
	}, nil
}
