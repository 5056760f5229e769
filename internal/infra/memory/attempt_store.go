package memory

import (
	"context"
	"sync"

	"exam-deployment-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[attemptKey]*domain.Attempt
}

type attemptKey struct {
	deploymentID string
	submitterID  string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[attemptKey]*domain.Attempt)}
}

func (s *AttemptStore) Get(_ context.Context, deploymentID, submitterID string) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey{deploymentID, submitterID}]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

func (s *AttemptStore) Put(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyAttempt(&a)
	s.attempts[attemptKey{a.DeploymentID, a.SubmitterID}] = &stored
	return nil
}

func (s *AttemptStore) MergeAnswers(_ context.Context, deploymentID, submitterID string, answers domain.AnswerSheet) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey{deploymentID, submitterID}]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if a.Completed {
		return domain.Attempt{}, domain.ErrAttemptCompleted
	}
	for id, answer := range answers {
		if answer == nil {
			delete(a.Answers, id)
			continue
		}
		a.Answers[id] = answer
	}
	return copyAttempt(a), nil
}

func (s *AttemptStore) IncrementCheating(_ context.Context, deploymentID, submitterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey{deploymentID, submitterID}]
	if !ok {
		return 0, domain.ErrAttemptNotFound
	}
	a.CheatingCount++
	return a.CheatingCount, nil
}

func (s *AttemptStore) MarkCompleted(_ context.Context, deploymentID, submitterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey{deploymentID, submitterID}]
	if !ok {
		return false, nil
	}
	if a.Completed {
		return false, nil
	}
	a.Completed = true
	return true, nil
}

func (s *AttemptStore) UnmarkCompleted(_ context.Context, deploymentID, submitterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[attemptKey{deploymentID, submitterID}]; ok {
		a.Completed = false
	}
	return nil
}

func copyAttempt(a *domain.Attempt) domain.Attempt {
	out := *a
	out.Answers = make(domain.AnswerSheet, len(a.Answers))
	for id, answer := range a.Answers {
		out.Answers[id] = answer
	}
	return out
}
