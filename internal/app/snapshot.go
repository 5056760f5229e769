package app

import (
	"context"

	"exam-deployment-service/internal/domain"
)

// SnapshotBuilder freezes an exam's current questions for a deployment.
type SnapshotBuilder struct {
	base
	questions QuestionRepository
}

func NewSnapshotBuilder(questions QuestionRepository, opts ...Option) *SnapshotBuilder {
	return &SnapshotBuilder{base: newBase(opts), questions: questions}
}

// Build copies the exam's questions in bank order.
func (b *SnapshotBuilder) Build(ctx context.Context, exam domain.Exam) (domain.Snapshot, error) {
	questions, err := b.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(questions) == 0 {
		return domain.Snapshot{}, domain.Validation("exam %s has no questions to deploy", exam.ID)
	}
	return domain.NewSnapshot(exam, questions, b.now()), nil
}
