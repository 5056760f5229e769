package app

import (
	"context"

	"exam-deployment-service/internal/domain"
	"github.com/google/uuid"
)

// QuestionBank owns the authored, still editable questions of each exam.
type QuestionBank struct {
	base
	catalog Catalog
	repo    QuestionRepository
}

func NewQuestionBank(catalog Catalog, repo QuestionRepository, opts ...Option) *QuestionBank {
	return &QuestionBank{base: newBase(opts), catalog: catalog, repo: repo}
}

// AddQuestion validates content and appends it to the exam.
func (b *QuestionBank) AddQuestion(ctx context.Context, examID string, content domain.QuestionContent) (domain.Question, error) {
	if err := content.Validate(); err != nil {
		return domain.Question{}, err
	}
	if _, err := b.catalog.GetExam(ctx, examID); err != nil {
		return domain.Question{}, err
	}

	now := b.now()
	q := domain.Question{
		ID:              uuid.NewString(),
		ExamID:          examID,
		QuestionContent: content,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.repo.Save(ctx, q, examLimits(q)); err != nil {
		return domain.Question{}, err
	}
	b.log.Info("question added", "exam_id", examID, "question_id", q.ID, "type", q.Type)
	return q, nil
}

// UpdateQuestion replaces the content of an existing question. Deployments
// created earlier keep their own frozen copy.
func (b *QuestionBank) UpdateQuestion(ctx context.Context, questionID string, content domain.QuestionContent) (domain.Question, error) {
	if err := content.Validate(); err != nil {
		return domain.Question{}, err
	}
	q, err := b.repo.Get(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}

	q.QuestionContent = content
	q.UpdatedAt = b.now()
	if err := b.repo.Save(ctx, q, examLimits(q)); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func (b *QuestionBank) DeleteQuestion(ctx context.Context, questionID string) error {
	return b.repo.Delete(ctx, questionID)
}

func (b *QuestionBank) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	return b.repo.Get(ctx, questionID)
}

// ListQuestions returns the exam's questions in creation order.
func (b *QuestionBank) ListQuestions(ctx context.Context, examID string) ([]domain.Question, error) {
	if _, err := b.catalog.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return b.repo.ListByExam(ctx, examID)
}

// examLimits enforces the per-exam question count and point budget with q
// added to the others.
func examLimits(q domain.Question) QuestionCheck {
	return func(others []domain.Question) error {
		if len(others)+1 > domain.MaxQuestionsPerExam {
			return domain.Validation("an exam holds at most %d questions", domain.MaxQuestionsPerExam)
		}
		total := q.Point
		for _, o := range others {
			total += o.Point
		}
		if total > domain.MaxPointsPerExam {
			return domain.Validation("exam points would total %d, the limit is %d", total, domain.MaxPointsPerExam)
		}
		return nil
	}
}
