package domain

import (
	"encoding/json"
	"time"
)

// ResultQuestion is one graded line of a result view.
type ResultQuestion struct {
	QuestionID      string
	Number          int
	Type            QuestionType
	Prompt          string
	Options         []string
	Point           int
	SubmittedAnswer Answer
	CorrectAnswer   Answer
	IsCorrect       bool
	Explanation     string
}

func (q ResultQuestion) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		QuestionID      string       `json:"question_id"`
		Number          int          `json:"number"`
		Type            QuestionType `json:"type"`
		Prompt          string       `json:"prompt"`
		Options         []string     `json:"options,omitempty"`
		Point           int          `json:"point"`
		SubmittedAnswer any          `json:"submitted_answer"`
		CorrectAnswer   any          `json:"correct_answer"`
		IsCorrect       bool         `json:"is_correct"`
		Explanation     string       `json:"explanation,omitempty"`
	}{
		QuestionID:      q.QuestionID,
		Number:          q.Number,
		Type:            q.Type,
		Prompt:          q.Prompt,
		Options:         q.Options,
		Point:           q.Point,
		SubmittedAnswer: bareValue(q.SubmittedAnswer),
		CorrectAnswer:   bareValue(q.CorrectAnswer),
		IsCorrect:       q.IsCorrect,
		Explanation:     q.Explanation,
	})
}

func bareValue(a Answer) any {
	if a == nil {
		return nil
	}
	return a.Value()
}

// ResultView is the per-question reconstruction of a submission.
type ResultView struct {
	SubmissionID   string           `json:"submission_id"`
	ExamTitle      string           `json:"exam_title"`
	TotalScore     int              `json:"total_score"`
	Score          int              `json:"score"`
	CheatingCount  int              `json:"cheating_count"`
	ElapsedSeconds int64            `json:"elapsed_seconds"`
	Questions      []ResultQuestion `json:"questions"`
}

// SubmissionSummary is the elapsed-time and score overview of a submission.
type SubmissionSummary struct {
	SubmissionID    string    `json:"submission_id"`
	SubmitterID     string    `json:"submitter_id"`
	Ordinal         int       `json:"ordinal"`
	Score           int       `json:"score"`
	TotalScore      int       `json:"total_score"`
	CorrectCount    int       `json:"correct_count"`
	QuestionCount   int       `json:"question_count"`
	ElapsedSeconds  int64     `json:"elapsed_seconds"`
	CheatingCount   int       `json:"cheating_count"`
	ForcedCompleted bool      `json:"forced_completed"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// StudentQuestion is what a participant sees while taking the exam.
type StudentQuestion struct {
	QuestionID string       `json:"question_id"`
	Number     int          `json:"number"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"prompt"`
	Supplement string       `json:"supplement,omitempty"`
	Options    []string     `json:"options,omitempty"`
	BlankCount int          `json:"blank_count,omitempty"`
	Point      int          `json:"point"`
}

// AttemptView is returned when a participant fetches the questions.
type AttemptView struct {
	DeploymentID     string            `json:"deployment_id"`
	ExamTitle        string            `json:"exam_title"`
	Questions        []StudentQuestion `json:"questions"`
	SavedAnswers     map[string]any    `json:"saved_answers"`
	ElapsedSeconds   int64             `json:"elapsed_seconds"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	CheatingCount    int               `json:"cheating_count"`
}

// CheatingOutcome reports the counter after an event and whether the
// attempt was force-completed by it.
type CheatingOutcome struct {
	CheatingCount   int         `json:"cheating_count"`
	ForcedCompleted bool        `json:"forced_completed"`
	Submission      *Submission `json:"submission,omitempty"`
}
