package app

import (
	"context"
	"time"

	"exam-deployment-service/internal/domain"
)

// RoleAdmin may read any submission result.
const RoleAdmin = "admin"

// AuthContext is the identity of the caller, provided by the transport.
type AuthContext interface {
	CurrentUserID() string
	HasRole(role string) bool
}

// Catalog resolves exams and cohorts owned by the course subsystem.
type Catalog interface {
	GetExam(ctx context.Context, examID string) (domain.Exam, error)
	GetCohort(ctx context.Context, cohortID string) (domain.Cohort, error)
}

// QuestionCheck inspects the exam's current questions (excluding the one
// being saved) before a write is applied.
type QuestionCheck func(others []domain.Question) error

// QuestionRepository stores bank questions.
type QuestionRepository interface {
	ListByExam(ctx context.Context, examID string) ([]domain.Question, error)
	Get(ctx context.Context, questionID string) (domain.Question, error)
	// Save inserts or updates q while holding an exclusive lock on the
	// exam's question set; check runs under that lock and aborts the write
	// when it returns an error.
	Save(ctx context.Context, q domain.Question, check QuestionCheck) error
	Delete(ctx context.Context, questionID string) error
}

// DeploymentRepository stores deployments with their snapshot.
type DeploymentRepository interface {
	// Create inserts d and its snapshot unless an activated deployment for
	// the same exam and cohort has not started at now; the check and the
	// insert are atomic.
	Create(ctx context.Context, d domain.Deployment, snapshot domain.Snapshot, now time.Time) error
	Get(ctx context.Context, deploymentID string) (domain.Deployment, error)
	Update(ctx context.Context, d domain.Deployment) error
	// Delete removes the deployment unless it has submissions.
	Delete(ctx context.Context, deploymentID string) error
	LoadSnapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error)
}

// SnapshotSource serves deployment snapshots, usually through a cache.
type SnapshotSource interface {
	Snapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error)
}

// SubmissionRepository stores finalized submissions.
type SubmissionRepository interface {
	CountBySubmitter(ctx context.Context, deploymentID, submitterID string) (int, error)
	CountByDeployment(ctx context.Context, deploymentID string) (int, error)
	// Create assigns the next ordinal and inserts s. A (deployment,
	// submitter, ordinal) uniqueness violation or an ordinal above
	// domain.MaxSubmissions yields domain.ErrAlreadySubmitted.
	Create(ctx context.Context, s *domain.Submission) error
	Get(ctx context.Context, submissionID string) (domain.Submission, error)
	ListByDeployment(ctx context.Context, deploymentID string) ([]domain.Submission, error)
}

// SnapshotEvicter is implemented by snapshot sources that cache, so a
// deleted deployment does not outlive its record in the cache.
type SnapshotEvicter interface {
	Forget(ctx context.Context, deploymentID string) error
}

// AttemptStore keeps in-progress attempts keyed by deployment and submitter.
type AttemptStore interface {
	Get(ctx context.Context, deploymentID, submitterID string) (domain.Attempt, error)
	// Put replaces any existing attempt with a fresh one.
	Put(ctx context.Context, a domain.Attempt) error
	MergeAnswers(ctx context.Context, deploymentID, submitterID string, answers domain.AnswerSheet) (domain.Attempt, error)
	IncrementCheating(ctx context.Context, deploymentID, submitterID string) (int, error)
	// MarkCompleted flags the attempt as finalized and reports whether this
	// call was the one that did it.
	MarkCompleted(ctx context.Context, deploymentID, submitterID string) (bool, error)
	UnmarkCompleted(ctx context.Context, deploymentID, submitterID string) error
}
