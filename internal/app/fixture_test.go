package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/infra/memory"
)

var t0 = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	attempts *memory.AttemptStore
	clock    *clock
	svc      *app.Services
}

func newFixture() *fixture {
	store := memory.NewStore()
	store.PutExam(domain.Exam{ID: "exam-1", CourseID: "course-1", Title: "Midterm"})
	store.PutExam(domain.Exam{ID: "exam-empty", CourseID: "course-1", Title: "Empty"})
	store.PutExam(domain.Exam{ID: "exam-other", CourseID: "course-2", Title: "Other course"})
	store.PutCohort(domain.Cohort{ID: "cohort-1", CourseID: "course-1"})
	store.PutCohort(domain.Cohort{ID: "cohort-2", CourseID: "course-1"})

	attempts := memory.NewAttemptStore()
	c := &clock{now: t0}
	return &fixture{
		store:    store,
		attempts: attempts,
		clock:    c,
		svc:      app.NewServices(store.Deps(attempts), app.WithClock(c.Now)),
	}
}

// fourQuestions are worth 10 + 5 + 3 + 2 = 20 points.
func fourQuestions() []domain.QuestionContent {
	return []domain.QuestionContent{
		{Type: domain.SingleChoice, Prompt: "2 + 2?", Options: []string{"3", "4", "5"}, Answer: domain.ChoiceAnswer{Choice: "4"}, Point: 10},
		{Type: domain.MultipleChoice, Prompt: "Even numbers?", Options: []string{"1", "2", "3", "4"}, Answer: domain.MultiChoiceAnswer{Choices: []string{"2", "4"}}, Point: 5},
		{Type: domain.TrueFalse, Prompt: "The sky is blue.", Answer: domain.TrueFalseAnswer{Mark: domain.MarkTrue}, Point: 3},
		{Type: domain.FillBlank, Prompt: "_ plus _ is four", BlankCount: 2, Answer: domain.FillBlankAnswer{Blanks: []string{"two", "two"}}, Point: 2},
	}
}

// seedQuestions adds content to exam-1 one second apart so bank order is
// the insertion order.
func (f *fixture) seedQuestions(t *testing.T, contents []domain.QuestionContent) []domain.Question {
	t.Helper()
	out := make([]domain.Question, 0, len(contents))
	for _, c := range contents {
		q, err := f.svc.Questions.AddQuestion(context.Background(), "exam-1", c)
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		out = append(out, q)
		f.clock.Advance(time.Second)
	}
	return out
}

// openDeployment creates a deployment of exam-1 and moves the clock into
// its window.
func (f *fixture) openDeployment(t *testing.T) domain.Deployment {
	t.Helper()
	openAt := f.clock.Now().Add(time.Hour)
	d, err := f.svc.Deployments.Create(context.Background(), app.CreateDeploymentInput{
		CohortID:        "cohort-1",
		ExamID:          "exam-1",
		DurationMinutes: 60,
		OpenAt:          openAt,
		CloseAt:         openAt.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	f.clock.Set(openAt.Add(time.Minute))
	return d
}

func raw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
