package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const questionColumns = `id, exam_id, type, prompt, supplement, options, blank_count, answer, point, explanation, created_at, updated_at`

// QuestionRepository stores bank questions in Postgres.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

func (r *QuestionRepository) ListByExam(ctx context.Context, examID string) ([]domain.Question, error) {
	return listQuestions(ctx, r.pool, examID, "")
}

func (r *QuestionRepository) Get(ctx context.Context, questionID string) (domain.Question, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, questionID)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

// Save locks the exam row so concurrent writers see each other's questions
// before check runs.
func (r *QuestionRepository) Save(ctx context.Context, q domain.Question, check app.QuestionCheck) error {
	options, err := json.Marshal(nonNilOptions(q.Options))
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	answer, err := domain.MarshalAnswer(q.Answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM exams WHERE id=$1 FOR UPDATE`, q.ExamID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrExamNotFound
	}
	if err != nil {
		return fmt.Errorf("lock exam: %w", err)
	}

	if check != nil {
		others, err := listQuestions(ctx, tx, q.ExamID, q.ID)
		if err != nil {
			return err
		}
		if err := check(others); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO questions (`+questionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			type=EXCLUDED.type, prompt=EXCLUDED.prompt, supplement=EXCLUDED.supplement,
			options=EXCLUDED.options, blank_count=EXCLUDED.blank_count, answer=EXCLUDED.answer,
			point=EXCLUDED.point, explanation=EXCLUDED.explanation, updated_at=EXCLUDED.updated_at`,
		q.ID, q.ExamID, string(q.Type), q.Prompt, q.Supplement, string(options), q.BlankCount,
		string(answer), q.Point, q.Explanation, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *QuestionRepository) Delete(ctx context.Context, questionID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id=$1`, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func listQuestions(ctx context.Context, db querier, examID, skip string) ([]domain.Question, error) {
	rows, err := db.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_id=$1 AND id<>$2 ORDER BY created_at, seq`,
		examID, skip)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q               domain.Question
		qType           string
		options, answer []byte
	)
	err := row.Scan(&q.ID, &q.ExamID, &qType, &q.Prompt, &q.Supplement, &options, &q.BlankCount,
		&answer, &q.Point, &q.Explanation, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return domain.Question{}, err
	}
	q.Type = domain.QuestionType(qType)
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("decode options: %w", err)
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	if q.Answer, err = domain.UnmarshalAnswer(answer); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func nonNilOptions(options []string) []string {
	if options == nil {
		return []string{}
	}
	return options
}
