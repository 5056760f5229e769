package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam-deployment-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestAttemptStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewAttemptStore(newClient(mr), time.Hour)
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.Get(ctx, "dep-1", "alice"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected attempt not found, got %v", err)
	}
	if err := store.Put(ctx, domain.Attempt{DeploymentID: "dep-1", SubmitterID: "alice", StartedAt: started}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("attempt:dep-1:alice"); ttl != time.Hour {
		t.Fatalf("expected attempt ttl, got %v", ttl)
	}

	a, err := store.MergeAnswers(ctx, "dep-1", "alice", domain.AnswerSheet{
		"q1": domain.MultiChoiceAnswer{Choices: []string{"a", "c"}},
		"q2": domain.FillBlankAnswer{Blanks: []string{"x", ""}},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if a.Answers.Answered() != 2 {
		t.Fatalf("expected 2 answers, got %d", a.Answers.Answered())
	}

	got, err := store.Get(ctx, "dep-1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("expected started_at %v, got %v", started, got.StartedAt)
	}
	fb, ok := got.Answers["q2"].(domain.FillBlankAnswer)
	if !ok || len(fb.Blanks) != 2 || fb.Blanks[0] != "x" {
		t.Fatalf("unexpected fill-blank answer %#v", got.Answers["q2"])
	}

	if _, err := store.MergeAnswers(ctx, "dep-1", "alice", domain.AnswerSheet{"q1": nil}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = store.Get(ctx, "dep-1", "alice")
	if _, ok := got.Answers["q1"]; ok {
		t.Fatalf("expected q1 cleared")
	}
}

func TestAttemptStoreCountersAndClaim(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewAttemptStore(newClient(mr), time.Hour)

	if _, err := store.IncrementCheating(ctx, "dep-1", "bob"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected missing attempt, got %v", err)
	}
	if mr.Exists("attempt:dep-1:bob") {
		t.Fatalf("increment must not create an attempt")
	}

	_ = store.Put(ctx, domain.Attempt{DeploymentID: "dep-1", SubmitterID: "bob", StartedAt: time.Now()})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.IncrementCheating(ctx, "dep-1", "bob")
		}()
	}
	wg.Wait()
	a, _ := store.Get(ctx, "dep-1", "bob")
	if a.CheatingCount != 3 {
		t.Fatalf("expected 3 cheating events, got %d", a.CheatingCount)
	}

	claims := 0
	for i := 0; i < 2; i++ {
		ok, err := store.MarkCompleted(ctx, "dep-1", "bob")
		if err != nil {
			t.Fatalf("mark completed: %v", err)
		}
		if ok {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected one claim, got %d", claims)
	}
	if _, err := store.MergeAnswers(ctx, "dep-1", "bob", domain.AnswerSheet{"q1": domain.ShortTextAnswer{Text: "late"}}); !errors.Is(err, domain.ErrAttemptCompleted) {
		t.Fatalf("expected completed attempt to reject drafts, got %v", err)
	}

	if err := store.UnmarkCompleted(ctx, "dep-1", "bob"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	a, _ = store.Get(ctx, "dep-1", "bob")
	if a.Completed {
		t.Fatalf("expected claim released")
	}
}

func TestAttemptStoreWritesExtendTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewAttemptStore(newClient(mr), time.Hour)
	key := "attempt:dep-1:carol"

	if err := store.Put(ctx, domain.Attempt{DeploymentID: "dep-1", SubmitterID: "carol", StartedAt: time.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}

	mr.FastForward(50 * time.Minute)
	if _, err := store.IncrementCheating(ctx, "dep-1", "carol"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("expected increment to refresh ttl, got %v", ttl)
	}

	mr.FastForward(50 * time.Minute)
	if _, err := store.MergeAnswers(ctx, "dep-1", "carol", domain.AnswerSheet{"q1": domain.ShortTextAnswer{Text: "draft"}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("expected merge to refresh ttl, got %v", ttl)
	}

	mr.FastForward(50 * time.Minute)
	a, err := store.Get(ctx, "dep-1", "carol")
	if err != nil {
		t.Fatalf("active attempt expired: %v", err)
	}
	if a.CheatingCount != 1 || a.Answers.Answered() != 1 {
		t.Fatalf("unexpected attempt after refreshes: %+v", a)
	}

	if ok, err := store.MarkCompleted(ctx, "dep-1", "carol"); err != nil || !ok {
		t.Fatalf("mark completed: %v %v", ok, err)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("expected claim to refresh ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "dep-1", "carol"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected idle attempt to expire, got %v", err)
	}
}
