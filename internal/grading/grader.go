// Package grading compares submitted answers against snapshot questions.
// Every function here is pure and total: a missing or mis-shaped answer is
// graded as incorrect, never reported as an error.
package grading

import (
	"sort"
	"strings"

	"exam-deployment-service/internal/domain"
)

// Outcome is the grade of one question.
type Outcome struct {
	IsCorrect     bool
	PointsAwarded int
}

// Grade compares submitted against the canonical answer of q.
func Grade(q domain.SnapshotQuestion, submitted domain.Answer) Outcome {
	if correct(q, submitted) {
		return Outcome{IsCorrect: true, PointsAwarded: q.Point}
	}
	return Outcome{}
}

func correct(q domain.SnapshotQuestion, submitted domain.Answer) bool {
	if submitted == nil || q.Answer == nil {
		return false
	}

	switch want := q.Answer.(type) {
	case domain.ChoiceAnswer:
		got, ok := submitted.(domain.ChoiceAnswer)
		return ok && got.Choice != "" && got.Choice == want.Choice
	case domain.MultiChoiceAnswer:
		got, ok := submitted.(domain.MultiChoiceAnswer)
		return ok && len(got.Choices) > 0 && equalSet(got.Choices, want.Choices)
	case domain.TrueFalseAnswer:
		got, ok := submitted.(domain.TrueFalseAnswer)
		return ok && got.Mark != "" && got.Mark == want.Mark
	case domain.ShortTextAnswer:
		got, ok := submitted.(domain.ShortTextAnswer)
		text := strings.TrimSpace(got.Text)
		return ok && text != "" && text == strings.TrimSpace(want.Text)
	case domain.OrderingAnswer:
		got, ok := submitted.(domain.OrderingAnswer)
		return ok && len(got.Sequence) > 0 && equalSequence(got.Sequence, want.Sequence)
	case domain.FillBlankAnswer:
		got, ok := submitted.(domain.FillBlankAnswer)
		if !ok || len(got.Blanks) != q.BlankCount {
			return false
		}
		return equalSequence(got.Blanks, want.Blanks)
	default:
		return false
	}
}

// EmptyAnswer is the blank answer of the right shape for q, used to fill
// unanswered questions on forced completion.
func EmptyAnswer(q domain.SnapshotQuestion) domain.Answer {
	switch q.Type {
	case domain.SingleChoice:
		return domain.ChoiceAnswer{}
	case domain.MultipleChoice:
		return domain.MultiChoiceAnswer{Choices: []string{}}
	case domain.TrueFalse:
		return domain.TrueFalseAnswer{}
	case domain.ShortAnswer:
		return domain.ShortTextAnswer{}
	case domain.Ordering:
		return domain.OrderingAnswer{Sequence: []string{}}
	case domain.FillBlank:
		return domain.FillBlankAnswer{Blanks: make([]string, q.BlankCount)}
	default:
		return nil
	}
}

// SheetResult totals the grades of a full answer sheet.
type SheetResult struct {
	Score        int
	CorrectCount int
	Outcomes     map[string]Outcome
}

// GradeSheet grades every snapshot question against sheet.
func GradeSheet(snapshot domain.Snapshot, sheet domain.AnswerSheet) SheetResult {
	res := SheetResult{Outcomes: make(map[string]Outcome, len(snapshot.Questions))}
	for _, q := range snapshot.Questions {
		out := Grade(q, sheet[q.ID])
		res.Outcomes[q.ID] = out
		if out.IsCorrect {
			res.CorrectCount++
			res.Score += out.PointsAwarded
		}
	}
	return res
}

func equalSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	aa := append([]string(nil), a...)
	bb := append([]string(nil), b...)
	sort.Strings(aa)
	sort.Strings(bb)
	return equalSequence(aa, bb)
}

func equalSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
