package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the layout written by EncodeSnapshot.
const SnapshotVersion = 1

// SnapshotQuestion is a frozen copy of a bank question.
type SnapshotQuestion struct {
	ID string
	QuestionContent
}

// Snapshot is the immutable, ordered question set a deployment was created
// with. Grading and results only ever read a snapshot.
type Snapshot struct {
	Version   int
	ExamID    string
	ExamTitle string
	TakenAt   time.Time
	Questions []SnapshotQuestion
}

// NewSnapshot copies questions so later edits to the slice or its option
// lists cannot leak into the snapshot.
func NewSnapshot(exam Exam, questions []Question, takenAt time.Time) Snapshot {
	frozen := make([]SnapshotQuestion, 0, len(questions))
	for _, q := range questions {
		content := q.QuestionContent
		content.Options = append([]string(nil), q.Options...)
		content.Answer = cloneAnswer(q.Answer)
		frozen = append(frozen, SnapshotQuestion{ID: q.ID, QuestionContent: content})
	}
	return Snapshot{
		Version:   SnapshotVersion,
		ExamID:    exam.ID,
		ExamTitle: exam.Title,
		TakenAt:   takenAt.UTC(),
		Questions: frozen,
	}
}

func cloneAnswer(a Answer) Answer {
	switch v := a.(type) {
	case MultiChoiceAnswer:
		return MultiChoiceAnswer{Choices: append([]string(nil), v.Choices...)}
	case OrderingAnswer:
		return OrderingAnswer{Sequence: append([]string(nil), v.Sequence...)}
	case FillBlankAnswer:
		return FillBlankAnswer{Blanks: append([]string(nil), v.Blanks...)}
	default:
		return a
	}
}

// TotalPoints sums the point values of every snapshot question.
func (s Snapshot) TotalPoints() int {
	total := 0
	for _, q := range s.Questions {
		total += q.Point
	}
	return total
}

// Question looks up a snapshot question by id.
func (s Snapshot) Question(id string) (SnapshotQuestion, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return SnapshotQuestion{}, false
}

type snapshotQuestionJSON struct {
	ID string `json:"id"`
	questionContentJSON
}

type snapshotJSON struct {
	Version   int                    `json:"version"`
	ExamID    string                 `json:"exam_id"`
	ExamTitle string                 `json:"exam_title"`
	TakenAt   time.Time              `json:"taken_at"`
	Questions []snapshotQuestionJSON `json:"questions"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Version:   s.Version,
		ExamID:    s.ExamID,
		ExamTitle: s.ExamTitle,
		TakenAt:   s.TakenAt,
		Questions: make([]snapshotQuestionJSON, 0, len(s.Questions)),
	}
	for _, q := range s.Questions {
		content, err := q.QuestionContent.toJSON()
		if err != nil {
			return nil, fmt.Errorf("encode snapshot question %s: %w", q.ID, err)
		}
		out.Questions = append(out.Questions, snapshotQuestionJSON{ID: q.ID, questionContentJSON: content})
	}
	return json.Marshal(out)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", in.Version)
	}
	questions := make([]SnapshotQuestion, 0, len(in.Questions))
	for _, q := range in.Questions {
		content, err := q.content()
		if err != nil {
			return fmt.Errorf("decode snapshot question %s: %w", q.ID, err)
		}
		questions = append(questions, SnapshotQuestion{ID: q.ID, QuestionContent: content})
	}
	*s = Snapshot{
		Version:   in.Version,
		ExamID:    in.ExamID,
		ExamTitle: in.ExamTitle,
		TakenAt:   in.TakenAt,
		Questions: questions,
	}
	return nil
}

// EncodeSnapshot is the one codec used to persist and cache snapshots.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
