package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	MaxQuestionsPerExam = 20
	MaxPointsPerExam    = 100
	MinQuestionPoint    = 1
	MaxQuestionPoint    = 10
)

// Exam is the catalog view of an exam owned by the course subsystem.
type Exam struct {
	ID       string
	CourseID string
	Title    string
}

// Cohort is the catalog view of an enrolled group of learners.
type Cohort struct {
	ID       string
	CourseID string
}

// QuestionContent is the authored part of a question, shared by bank
// entries and snapshot copies.
type QuestionContent struct {
	Type        QuestionType
	Prompt      string
	Supplement  string
	Options     []string
	BlankCount  int
	Answer      Answer
	Point       int
	Explanation string
}

// Question is an editable bank entry scoped to one exam.
type Question struct {
	ID     string
	ExamID string
	QuestionContent
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks that the canonical answer has the shape its type demands.
func (c QuestionContent) Validate() error {
	if !c.Type.Valid() {
		return Validation("unknown question type %q", c.Type)
	}
	if strings.TrimSpace(c.Prompt) == "" {
		return Validation("prompt is required")
	}
	if c.Point < MinQuestionPoint || c.Point > MaxQuestionPoint {
		return Validation("point must be between %d and %d", MinQuestionPoint, MaxQuestionPoint)
	}
	if c.Answer == nil {
		return Validation("answer is required")
	}
	if c.Answer.Type() != c.Type {
		return Validation("answer shape %s does not match question type %s", c.Answer.Type(), c.Type)
	}
	if c.Type.HasOptions() {
		if len(c.Options) < 2 {
			return Validation("%s question needs at least two options", c.Type)
		}
		if hasDuplicates(c.Options) {
			return Validation("options must be unique")
		}
	} else if len(c.Options) > 0 {
		return Validation("%s question does not take options", c.Type)
	}
	if c.Type != FillBlank && c.BlankCount != 0 {
		return Validation("blank count only applies to fill_blank questions")
	}

	switch a := c.Answer.(type) {
	case ChoiceAnswer:
		if !contains(c.Options, a.Choice) {
			return Validation("answer %q is not one of the options", a.Choice)
		}
	case MultiChoiceAnswer:
		if len(a.Choices) == 0 {
			return Validation("multiple_choice answer needs at least one choice")
		}
		if hasDuplicates(a.Choices) {
			return Validation("multiple_choice answer repeats a choice")
		}
		for _, choice := range a.Choices {
			if !contains(c.Options, choice) {
				return Validation("answer %q is not one of the options", choice)
			}
		}
	case TrueFalseAnswer:
		if a.Mark != MarkTrue && a.Mark != MarkFalse {
			return Validation("true_false answer must be %q or %q", MarkTrue, MarkFalse)
		}
	case ShortTextAnswer:
		if strings.TrimSpace(a.Text) == "" {
			return Validation("short_answer answer must not be blank")
		}
	case OrderingAnswer:
		if !samePermutation(a.Sequence, c.Options) {
			return Validation("ordering answer must arrange every option exactly once")
		}
	case FillBlankAnswer:
		if c.BlankCount < 1 {
			return Validation("fill_blank question needs a blank count")
		}
		if len(a.Blanks) != c.BlankCount {
			return Validation("fill_blank answer has %d blanks, expected %d", len(a.Blanks), c.BlankCount)
		}
		for _, blank := range a.Blanks {
			if strings.TrimSpace(blank) == "" {
				return Validation("fill_blank answer must not contain empty blanks")
			}
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func hasDuplicates(list []string) bool {
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		if _, ok := seen[item]; ok {
			return true
		}
		seen[item] = struct{}{}
	}
	return false
}

func samePermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	aa := append([]string(nil), a...)
	bb := append([]string(nil), b...)
	sort.Strings(aa)
	sort.Strings(bb)
	for i := range aa {
		if aa[i] != bb[i] {
			return false
		}
	}
	return true
}

type questionContentJSON struct {
	Type        QuestionType    `json:"type"`
	Prompt      string          `json:"prompt"`
	Supplement  string          `json:"supplement,omitempty"`
	Options     []string        `json:"options,omitempty"`
	BlankCount  int             `json:"blank_count,omitempty"`
	Answer      json.RawMessage `json:"answer"`
	Point       int             `json:"point"`
	Explanation string          `json:"explanation,omitempty"`
}

func (c QuestionContent) toJSON() (questionContentJSON, error) {
	answer, err := MarshalAnswer(c.Answer)
	if err != nil {
		return questionContentJSON{}, err
	}
	return questionContentJSON{
		Type:        c.Type,
		Prompt:      c.Prompt,
		Supplement:  c.Supplement,
		Options:     c.Options,
		BlankCount:  c.BlankCount,
		Answer:      answer,
		Point:       c.Point,
		Explanation: c.Explanation,
	}, nil
}

func (j questionContentJSON) content() (QuestionContent, error) {
	answer, err := UnmarshalAnswer(j.Answer)
	if err != nil {
		return QuestionContent{}, err
	}
	if answer != nil && answer.Type() != j.Type {
		return QuestionContent{}, fmt.Errorf("answer type %s does not match question type %s", answer.Type(), j.Type)
	}
	return QuestionContent{
		Type:        j.Type,
		Prompt:      j.Prompt,
		Supplement:  j.Supplement,
		Options:     j.Options,
		BlankCount:  j.BlankCount,
		Answer:      answer,
		Point:       j.Point,
		Explanation: j.Explanation,
	}, nil
}

type questionJSON struct {
	ID     string `json:"id"`
	ExamID string `json:"exam_id"`
	questionContentJSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	content, err := q.QuestionContent.toJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(questionJSON{
		ID:                  q.ID,
		ExamID:              q.ExamID,
		questionContentJSON: content,
		CreatedAt:           q.CreatedAt,
		UpdatedAt:           q.UpdatedAt,
	})
}
