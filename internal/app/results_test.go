package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
)

type caller struct {
	id    string
	roles []string
}

func (c caller) CurrentUserID() string { return c.id }

func (c caller) HasRole(role string) bool {
	for _, r := range c.roles {
		if r == role {
			return true
		}
	}
	return false
}

func TestGetResult(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()
	startedAt := f.clock.Now()
	f.clock.Advance(40 * time.Minute)

	sub, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID:  d.ID,
		SubmitterID:   "learner-1",
		StartedAt:     startedAt,
		CheatingCount: 1,
		Answers: map[string]json.RawMessage{
			qs[0].ID: raw("3"),
			qs[1].ID: raw([]string{"2", "4"}),
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	view, err := f.svc.Results.GetResult(ctx, sub.ID, caller{id: "learner-1"})
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if view.Score != 5 || view.TotalScore != 20 || view.ElapsedSeconds != 2400 || view.CheatingCount != 1 {
		t.Fatalf("unexpected result header %+v", view)
	}
	wantCorrect := []bool{false, true, false, false}
	for i, q := range view.Questions {
		if q.Number != i+1 || q.QuestionID != qs[i].ID {
			t.Fatalf("question %d out of order", i)
		}
		if q.IsCorrect != wantCorrect[i] {
			t.Fatalf("question %d: expected correct=%v", i+1, wantCorrect[i])
		}
	}
	if view.Questions[2].SubmittedAnswer != nil {
		t.Fatalf("unanswered question should have no submitted answer")
	}

	again, err := f.svc.Results.GetResult(ctx, sub.ID, caller{id: "learner-1"})
	if err != nil || !reflect.DeepEqual(view, again) {
		t.Fatalf("result is not stable: %v", err)
	}

	if _, err := f.svc.Results.GetResult(ctx, sub.ID, caller{id: "learner-2"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for another learner, got %v", err)
	}
	if _, err := f.svc.Results.GetResult(ctx, sub.ID, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden without caller, got %v", err)
	}
	if _, err := f.svc.Results.GetResult(ctx, sub.ID, caller{id: "proctor", roles: []string{app.RoleAdmin}}); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := f.svc.Results.GetResult(ctx, "missing", caller{id: "learner-1"}); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResultSurvivesBankEdits(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()

	sub, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID: d.ID, SubmitterID: "learner-1", StartedAt: f.clock.Now(),
		Answers: map[string]json.RawMessage{qs[0].ID: raw("4")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	changed := qs[0].QuestionContent
	changed.Answer = domain.ChoiceAnswer{Choice: "5"}
	if _, err := f.svc.Questions.UpdateQuestion(ctx, qs[0].ID, changed); err != nil {
		t.Fatalf("update: %v", err)
	}

	view, err := f.svc.Results.GetResult(ctx, sub.ID, caller{id: "learner-1"})
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !view.Questions[0].IsCorrect || view.Score != 10 {
		t.Fatalf("result changed with the bank: %+v", view.Questions[0])
	}
}

func TestBuildResultRejectsCorruptSession(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	sub := domain.Submission{ID: "s", StartedAt: now.Add(time.Minute), CreatedAt: now}

	if _, err := app.BuildResult(sub, domain.Snapshot{}); !errors.Is(err, domain.ErrCorruptSession) {
		t.Fatalf("expected corrupt session, got %v", err)
	}
	if _, err := app.BuildSummary(sub, domain.Snapshot{}); !errors.Is(err, domain.ErrCorruptSession) {
		t.Fatalf("expected corrupt session, got %v", err)
	}
}
