package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/infra/memory"
)

func TestSubmitGradesAgainstSnapshot(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()
	startedAt := f.clock.Now()
	f.clock.Advance(25 * time.Minute)

	sub, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID: d.ID,
		SubmitterID:  "learner-1",
		StartedAt:    startedAt,
		Answers: map[string]json.RawMessage{
			qs[0].ID:  raw("4"),
			qs[1].ID:  raw([]string{"4", "2"}),
			qs[2].ID:  raw("X"),
			qs[3].ID:  raw([]string{"two", "two"}),
			"foreign": raw("ignored"),
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Score != 17 || sub.CorrectCount != 3 || sub.Ordinal != 1 {
		t.Fatalf("unexpected grading %+v", sub)
	}
	if len(sub.Answers) != 4 {
		t.Fatalf("expected one entry per snapshot question, got %d", len(sub.Answers))
	}
	if _, ok := sub.Answers["foreign"]; ok {
		t.Fatalf("answers outside the snapshot must be dropped")
	}
	if sub.ForcedCompleted {
		t.Fatalf("regular submission flagged as forced")
	}
}

func TestSubmitMalformedAnswerIsIncorrect(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)

	sub, err := f.svc.Submissions.Submit(context.Background(), app.SubmitInput{
		DeploymentID: d.ID,
		SubmitterID:  "learner-1",
		StartedAt:    f.clock.Now(),
		Answers: map[string]json.RawMessage{
			qs[0].ID: raw([]string{"4"}),
			qs[2].ID: raw("O"),
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Score != 3 {
		t.Fatalf("expected only the true/false point, got %d", sub.Score)
	}
	if a, ok := sub.Answers[qs[0].ID]; !ok || a != nil {
		t.Fatalf("expected malformed answer stored as nil, got %v", a)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture()
	f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()

	_, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID: d.ID, SubmitterID: "learner-1", StartedAt: f.clock.Now().Add(time.Minute),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected future started_at to fail, got %v", err)
	}

	_, err = f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID: d.ID, SubmitterID: "learner-1", StartedAt: f.clock.Now(), CheatingCount: -1,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected negative cheating count to fail, got %v", err)
	}

	_, err = f.svc.Submissions.Submit(ctx, app.SubmitInput{DeploymentID: d.ID, SubmitterID: "learner-1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected missing started_at without attempt to fail, got %v", err)
	}

	_, err = f.svc.Submissions.Submit(ctx, app.SubmitInput{DeploymentID: "missing", SubmitterID: "learner-1", StartedAt: f.clock.Now()})
	if !errors.Is(err, domain.ErrDeploymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitFromAttemptMergesDrafts(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()
	startedAt := f.clock.Now()

	if _, err := f.svc.Attempts.FetchQuestions(ctx, d.ID, "learner-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := f.svc.Attempts.SaveAnswers(ctx, d.ID, "learner-1", map[string]json.RawMessage{
		qs[0].ID: raw("4"),
		qs[1].ID: raw([]string{"1"}),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := f.svc.Cheating.RecordEvent(ctx, d.ID, "learner-1"); err != nil {
		t.Fatalf("cheating: %v", err)
	}
	f.clock.Advance(5 * time.Minute)

	sub, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID: d.ID,
		SubmitterID:  "learner-1",
		Answers:      map[string]json.RawMessage{qs[1].ID: raw([]string{"2", "4"})},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Score != 15 {
		t.Fatalf("expected draft and request answers to score 15, got %d", sub.Score)
	}
	if !sub.StartedAt.Equal(startedAt) || sub.CheatingCount != 1 {
		t.Fatalf("attempt clock not carried over: %+v", sub)
	}

	_, err = f.svc.Submissions.Submit(ctx, app.SubmitInput{DeploymentID: d.ID, SubmitterID: "learner-1"})
	if !errors.Is(err, domain.ErrAttemptCompleted) {
		t.Fatalf("expected completed attempt, got %v", err)
	}
}

// hookedAttempts runs afterGet once, right after the first Get returns.
type hookedAttempts struct {
	*memory.AttemptStore
	once     sync.Once
	afterGet func()
}

func (h *hookedAttempts) Get(ctx context.Context, deploymentID, submitterID string) (domain.Attempt, error) {
	a, err := h.AttemptStore.Get(ctx, deploymentID, submitterID)
	h.once.Do(h.afterGet)
	return a, err
}

func TestSubmitLosesToConcurrentForcedCompletion(t *testing.T) {
	f := newFixture()
	f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()

	if _, err := f.svc.Attempts.FetchQuestions(ctx, d.ID, "learner-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for i := 1; i < domain.MaxCheatingEvents; i++ {
		if _, err := f.svc.Cheating.RecordEvent(ctx, d.ID, "learner-1"); err != nil {
			t.Fatalf("cheating %d: %v", i, err)
		}
	}

	var forced domain.CheatingOutcome
	hooked := &hookedAttempts{AttemptStore: f.attempts, afterGet: func() {
		out, err := f.svc.Cheating.RecordEvent(ctx, d.ID, "learner-1")
		if err != nil {
			t.Errorf("final cheating event: %v", err)
		}
		forced = out
	}}
	svc := app.NewServices(f.store.Deps(hooked), app.WithClock(f.clock.Now))

	_, err := svc.Submissions.Submit(ctx, app.SubmitInput{DeploymentID: d.ID, SubmitterID: "learner-1"})
	if !errors.Is(err, domain.ErrAttemptCompleted) {
		t.Fatalf("expected submit to lose the claim, got %v", err)
	}
	if !forced.ForcedCompleted {
		t.Fatalf("expected forced completion, got %+v", forced)
	}

	summaries, err := f.svc.Submissions.ListSubmissions(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || !summaries[0].ForcedCompleted {
		t.Fatalf("expected only the forced submission, got %+v", summaries)
	}
}

func TestFailedSubmitReleasesAttempt(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()

	if _, err := f.svc.Attempts.FetchQuestions(ctx, d.ID, "learner-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	_, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
		DeploymentID: d.ID,
		SubmitterID:  "learner-1",
		StartedAt:    f.clock.Now().Add(time.Hour),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	attempt, err := f.attempts.Get(ctx, d.ID, "learner-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.Completed {
		t.Fatal("failed submit left the attempt completed")
	}
	if _, err := f.svc.Attempts.SaveAnswers(ctx, d.ID, "learner-1", map[string]json.RawMessage{qs[0].ID: raw("4")}); err != nil {
		t.Fatalf("save after failed submit: %v", err)
	}
}

func TestSubmitAtMostTwice(t *testing.T) {
	f := newFixture()
	f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()

	in := app.SubmitInput{DeploymentID: d.ID, SubmitterID: "learner-1", StartedAt: f.clock.Now()}
	for i := 1; i <= domain.MaxSubmissions; i++ {
		sub, err := f.svc.Submissions.Submit(ctx, in)
		if err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
		if sub.Ordinal != i {
			t.Fatalf("expected ordinal %d, got %d", i, sub.Ordinal)
		}
	}
	if _, err := f.svc.Submissions.Submit(ctx, in); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected third submission to conflict, got %v", err)
	}
	if _, err := f.svc.Attempts.FetchQuestions(ctx, d.ID, "learner-1"); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected no new attempt after two submissions, got %v", err)
	}
}

func TestConcurrentSubmitsNeverExceedLimit(t *testing.T) {
	f := newFixture()
	f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()
	startedAt := f.clock.Now()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{DeploymentID: d.ID, SubmitterID: "learner-1", StartedAt: startedAt})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrAlreadySubmitted):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != domain.MaxSubmissions || conflicts != workers-domain.MaxSubmissions {
		t.Fatalf("expected %d stored and %d conflicts, got %d and %d", domain.MaxSubmissions, workers-domain.MaxSubmissions, succeeded, conflicts)
	}
	summaries, err := f.svc.Submissions.ListSubmissions(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := map[int]bool{}
	for _, s := range summaries {
		seen[s.Ordinal] = true
	}
	if len(summaries) != 2 || !seen[1] || !seen[2] {
		t.Fatalf("expected ordinals 1 and 2, got %+v", summaries)
	}
}

func TestListSubmissions(t *testing.T) {
	f := newFixture()
	qs := f.seedQuestions(t, fourQuestions())
	d := f.openDeployment(t)
	ctx := context.Background()
	startedAt := f.clock.Now()
	f.clock.Advance(90 * time.Second)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Submissions.Submit(ctx, app.SubmitInput{
			DeploymentID: d.ID,
			SubmitterID:  fmt.Sprintf("learner-%d", i),
			StartedAt:    startedAt,
			Answers:      map[string]json.RawMessage{qs[0].ID: raw("4")},
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	summaries, err := f.svc.Submissions.ListSubmissions(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	for _, s := range summaries {
		if s.Score != 10 || s.TotalScore != 20 || s.QuestionCount != 4 || s.ElapsedSeconds != 90 {
			t.Fatalf("unexpected summary %+v", s)
		}
	}
}
