package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
)

// Store is the in-memory system of record. Its repositories share one lock
// so cross-table checks stay atomic, as the postgres adapters do with
// transactions.
type Store struct {
	mu          sync.Mutex
	exams       map[string]domain.Exam
	cohorts     map[string]domain.Cohort
	questions   map[string]domain.Question
	questionSeq map[string]uint64
	nextSeq     uint64
	deployments map[string]domain.Deployment
	snapshots   map[string]domain.Snapshot
	submissions map[string]domain.Submission
}

func NewStore() *Store {
	return &Store{
		exams:       make(map[string]domain.Exam),
		cohorts:     make(map[string]domain.Cohort),
		questions:   make(map[string]domain.Question),
		questionSeq: make(map[string]uint64),
		deployments: make(map[string]domain.Deployment),
		snapshots:   make(map[string]domain.Snapshot),
		submissions: make(map[string]domain.Submission),
	}
}

// PutExam registers an exam, standing in for the course subsystem.
func (s *Store) PutExam(e domain.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[e.ID] = e
}

func (s *Store) PutCohort(c domain.Cohort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cohorts[c.ID] = c
}

func (s *Store) GetExam(_ context.Context, examID string) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return e, nil
}

func (s *Store) GetCohort(_ context.Context, cohortID string) (domain.Cohort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cohorts[cohortID]
	if !ok {
		return domain.Cohort{}, domain.ErrCohortNotFound
	}
	return c, nil
}

func (s *Store) Questions() *QuestionRepository { return &QuestionRepository{s} }

func (s *Store) Deployments() *DeploymentRepository { return &DeploymentRepository{s} }

func (s *Store) Submissions() *SubmissionRepository { return &SubmissionRepository{s} }

// Deps wires every repository of the store plus an attempt store.
func (s *Store) Deps(attempts app.AttemptStore) app.Deps {
	return app.Deps{
		Catalog:     s,
		Questions:   s.Questions(),
		Deployments: s.Deployments(),
		Submissions: s.Submissions(),
		Attempts:    attempts,
	}
}

type QuestionRepository struct{ s *Store }

func (r *QuestionRepository) ListByExam(_ context.Context, examID string) ([]domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.examQuestions(examID, ""), nil
}

func (r *QuestionRepository) Get(_ context.Context, questionID string) (domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (r *QuestionRepository) Save(_ context.Context, q domain.Question, check app.QuestionCheck) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if prev, ok := r.s.questions[q.ID]; ok {
		q.CreatedAt = prev.CreatedAt
	}
	if check != nil {
		if err := check(r.s.examQuestions(q.ExamID, q.ID)); err != nil {
			return err
		}
	}
	if _, ok := r.s.questionSeq[q.ID]; !ok {
		r.s.nextSeq++
		r.s.questionSeq[q.ID] = r.s.nextSeq
	}
	r.s.questions[q.ID] = q
	return nil
}

func (r *QuestionRepository) Delete(_ context.Context, questionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.questions[questionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	delete(r.s.questions, questionID)
	delete(r.s.questionSeq, questionID)
	return nil
}

// examQuestions lists an exam's questions in creation order, skipping one id.
func (s *Store) examQuestions(examID, skip string) []domain.Question {
	out := make([]domain.Question, 0)
	for _, q := range s.questions {
		if q.ExamID == examID && q.ID != skip {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.questionSeq[out[i].ID] < s.questionSeq[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type DeploymentRepository struct{ s *Store }

func (r *DeploymentRepository) Create(_ context.Context, d domain.Deployment, snapshot domain.Snapshot, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.deployments {
		if other.AccessCode == d.AccessCode {
			return domain.ErrDuplicateAccessCode
		}
		if other.ExamID == d.ExamID && other.CohortID == d.CohortID &&
			other.Activation == domain.Activated && !other.Started(now) {
			return domain.ErrDuplicateDeployment
		}
	}
	r.s.deployments[d.ID] = d
	r.s.snapshots[d.ID] = snapshot
	return nil
}

func (r *DeploymentRepository) Get(_ context.Context, deploymentID string) (domain.Deployment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deployments[deploymentID]
	if !ok {
		return domain.Deployment{}, domain.ErrDeploymentNotFound
	}
	return d, nil
}

func (r *DeploymentRepository) Update(_ context.Context, d domain.Deployment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deployments[d.ID]; !ok {
		return domain.ErrDeploymentNotFound
	}
	r.s.deployments[d.ID] = d
	return nil
}

func (r *DeploymentRepository) Delete(_ context.Context, deploymentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deployments[deploymentID]; !ok {
		return domain.ErrDeploymentNotFound
	}
	for _, sub := range r.s.submissions {
		if sub.DeploymentID == deploymentID {
			return domain.ErrDeploymentHasSubmissions
		}
	}
	delete(r.s.deployments, deploymentID)
	delete(r.s.snapshots, deploymentID)
	return nil
}

func (r *DeploymentRepository) LoadSnapshot(_ context.Context, deploymentID string) (domain.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap, ok := r.s.snapshots[deploymentID]
	if !ok {
		return domain.Snapshot{}, domain.ErrDeploymentNotFound
	}
	return snap, nil
}

type SubmissionRepository struct{ s *Store }

func (r *SubmissionRepository) CountBySubmitter(_ context.Context, deploymentID, submitterID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.countSubmissions(deploymentID, submitterID), nil
}

func (r *SubmissionRepository) CountByDeployment(_ context.Context, deploymentID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.countSubmissions(deploymentID, ""), nil
}

func (r *SubmissionRepository) Create(_ context.Context, sub *domain.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deployments[sub.DeploymentID]; !ok {
		return domain.ErrDeploymentNotFound
	}
	ordinal := r.s.countSubmissions(sub.DeploymentID, sub.SubmitterID) + 1
	if ordinal > domain.MaxSubmissions {
		return domain.ErrAlreadySubmitted
	}
	sub.Ordinal = ordinal
	r.s.submissions[sub.ID] = *sub
	return nil
}

func (r *SubmissionRepository) Get(_ context.Context, submissionID string) (domain.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[submissionID]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, nil
}

func (r *SubmissionRepository) ListByDeployment(_ context.Context, deploymentID string) ([]domain.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Submission, 0)
	for _, sub := range r.s.submissions {
		if sub.DeploymentID == deploymentID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmitterID != out[j].SubmitterID {
			return out[i].SubmitterID < out[j].SubmitterID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

// countSubmissions counts a deployment's submissions, optionally for one
// submitter.
func (s *Store) countSubmissions(deploymentID, submitterID string) int {
	n := 0
	for _, sub := range s.submissions {
		if sub.DeploymentID == deploymentID && (submitterID == "" || sub.SubmitterID == submitterID) {
			n++
		}
	}
	return n
}
