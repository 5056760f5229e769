package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// QuestionType names the shape of a question and of its answers.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Ordering       QuestionType = "ordering"
	FillBlank      QuestionType = "fill_blank"
)

// QuestionTypes lists every supported type.
var QuestionTypes = []QuestionType{SingleChoice, MultipleChoice, TrueFalse, ShortAnswer, Ordering, FillBlank}

func (t QuestionType) Valid() bool {
	for _, known := range QuestionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// HasOptions reports whether questions of this type carry an option list.
func (t QuestionType) HasOptions() bool {
	return t == SingleChoice || t == MultipleChoice || t == Ordering
}

// True/false answers are normalized to these marks.
const (
	MarkTrue  = "O"
	MarkFalse = "X"
)

// Answer is a canonical or submitted answer. The concrete type always
// matches one QuestionType; the set of implementations is closed.
type Answer interface {
	Type() QuestionType
	// Value returns the bare client-facing shape (string or []string).
	Value() any
	isAnswer()
}

type ChoiceAnswer struct{ Choice string }

type MultiChoiceAnswer struct{ Choices []string }

type TrueFalseAnswer struct{ Mark string }

type ShortTextAnswer struct{ Text string }

type OrderingAnswer struct{ Sequence []string }

type FillBlankAnswer struct{ Blanks []string }

func (ChoiceAnswer) Type() QuestionType      { return SingleChoice }
func (MultiChoiceAnswer) Type() QuestionType { return MultipleChoice }
func (TrueFalseAnswer) Type() QuestionType   { return TrueFalse }
func (ShortTextAnswer) Type() QuestionType   { return ShortAnswer }
func (OrderingAnswer) Type() QuestionType    { return Ordering }
func (FillBlankAnswer) Type() QuestionType   { return FillBlank }

func (a ChoiceAnswer) Value() any      { return a.Choice }
func (a MultiChoiceAnswer) Value() any { return nonNil(a.Choices) }
func (a TrueFalseAnswer) Value() any   { return a.Mark }
func (a ShortTextAnswer) Value() any   { return a.Text }
func (a OrderingAnswer) Value() any    { return nonNil(a.Sequence) }
func (a FillBlankAnswer) Value() any   { return nonNil(a.Blanks) }

func (ChoiceAnswer) isAnswer()      {}
func (MultiChoiceAnswer) isAnswer() {}
func (TrueFalseAnswer) isAnswer()   {}
func (ShortTextAnswer) isAnswer()   {}
func (OrderingAnswer) isAnswer()    {}
func (FillBlankAnswer) isAnswer()   {}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// ParseAnswer reads the bare client shape for t: a scalar for single choice,
// true/false and short answer, a list for the others. JSON null yields nil.
func ParseAnswer(t QuestionType, raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch t {
	case SingleChoice:
		s, err := parseScalar(raw)
		if err != nil {
			return nil, err
		}
		return ChoiceAnswer{Choice: s}, nil
	case TrueFalse:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return TrueFalseAnswer{Mark: markFor(b)}, nil
		}
		s, err := parseScalar(raw)
		if err != nil {
			return nil, err
		}
		return TrueFalseAnswer{Mark: strings.ToUpper(s)}, nil
	case ShortAnswer:
		s, err := parseScalar(raw)
		if err != nil {
			return nil, err
		}
		return ShortTextAnswer{Text: s}, nil
	case MultipleChoice:
		list, err := parseList(raw)
		if err != nil {
			return nil, err
		}
		return MultiChoiceAnswer{Choices: list}, nil
	case Ordering:
		list, err := parseList(raw)
		if err != nil {
			return nil, err
		}
		return OrderingAnswer{Sequence: list}, nil
	case FillBlank:
		list, err := parseList(raw)
		if err != nil {
			return nil, err
		}
		return FillBlankAnswer{Blanks: list}, nil
	default:
		return nil, fmt.Errorf("unknown question type %q", t)
	}
}

func markFor(b bool) string {
	if b {
		return MarkTrue
	}
	return MarkFalse
}

// parseScalar accepts a JSON string or number; numbers keep their literal text.
func parseScalar(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected a single value, got %s", truncate(raw))
}

func parseList(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected a list, got %s", truncate(raw))
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := parseScalar(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func truncate(raw []byte) string {
	const limit = 32
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}

type answerEnvelope struct {
	Type  QuestionType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalAnswer encodes a as the tagged envelope {"type":...,"value":...}.
// A nil answer encodes as null.
func MarshalAnswer(a Answer) (json.RawMessage, error) {
	if a == nil {
		return json.RawMessage("null"), nil
	}
	value, err := json.Marshal(a.Value())
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerEnvelope{Type: a.Type(), Value: value})
}

// UnmarshalAnswer decodes the envelope written by MarshalAnswer.
func UnmarshalAnswer(raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var env answerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode answer envelope: %w", err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("decode answer envelope: unknown type %q", env.Type)
	}
	a, err := ParseAnswer(env.Type, env.Value)
	if err != nil {
		return nil, fmt.Errorf("decode %s answer: %w", env.Type, err)
	}
	if a == nil {
		return nil, fmt.Errorf("decode %s answer: missing value", env.Type)
	}
	return a, nil
}

// AnswerSheet maps question ids to answers; a nil entry is an explicit
// "unanswered".
type AnswerSheet map[string]Answer

func (s AnswerSheet) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s))
	for id, a := range s {
		raw, err := MarshalAnswer(a)
		if err != nil {
			return nil, fmt.Errorf("encode answer %s: %w", id, err)
		}
		out[id] = raw
	}
	return json.Marshal(out)
}

func (s *AnswerSheet) UnmarshalJSON(data []byte) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	sheet := make(AnswerSheet, len(in))
	for id, raw := range in {
		a, err := UnmarshalAnswer(raw)
		if err != nil {
			return fmt.Errorf("answer %s: %w", id, err)
		}
		sheet[id] = a
	}
	*s = sheet
	return nil
}

// Answered counts entries holding a non-nil answer.
func (s AnswerSheet) Answered() int {
	n := 0
	for _, a := range s {
		if a != nil {
			n++
		}
	}
	return n
}
