package app

import (
	"context"
	"log/slog"
	"time"

	"exam-deployment-service/internal/domain"
)

// Option customizes the services built by NewServices or the individual
// constructors.
type Option func(*base)

type base struct {
	now func() time.Time
	log *slog.Logger
}

// WithClock replaces time.Now, mainly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(b *base) { b.log = log }
}

func newBase(opts []Option) base {
	b := base{now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Deps are the adapters the use cases run on.
type Deps struct {
	Catalog     Catalog
	Questions   QuestionRepository
	Deployments DeploymentRepository
	// Snapshots defaults to reading straight from Deployments.
	Snapshots   SnapshotSource
	Submissions SubmissionRepository
	Attempts    AttemptStore
}

// Services bundles every use case of the exam engine.
type Services struct {
	Questions   *QuestionBank
	Deployments *DeploymentService
	Access      *AccessGate
	Attempts    *AttemptService
	Submissions *SubmissionService
	Cheating    *CheatingMonitor
	Results     *ResultBuilder
}

func NewServices(deps Deps, opts ...Option) *Services {
	source := deps.Snapshots
	if source == nil {
		source = repositorySnapshots{repo: deps.Deployments}
	}

	builder := NewSnapshotBuilder(deps.Questions, opts...)
	submissions := NewSubmissionService(deps.Deployments, source, deps.Submissions, deps.Attempts, opts...)
	return &Services{
		Questions:   NewQuestionBank(deps.Catalog, deps.Questions, opts...),
		Deployments: NewDeploymentService(deps.Catalog, builder, deps.Deployments, source, deps.Submissions, opts...),
		Access:      NewAccessGate(deps.Deployments, opts...),
		Attempts:    NewAttemptService(deps.Deployments, source, deps.Attempts, deps.Submissions, opts...),
		Submissions: submissions,
		Cheating:    NewCheatingMonitor(deps.Deployments, source, deps.Attempts, submissions, opts...),
		Results:     NewResultBuilder(deps.Submissions, source, opts...),
	}
}

type repositorySnapshots struct {
	repo DeploymentRepository
}

func (r repositorySnapshots) Snapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error) {
	return r.repo.LoadSnapshot(ctx, deploymentID)
}

// requireOpen maps the derived window state to the gate errors.
func requireOpen(d domain.Deployment, now time.Time) error {
	switch d.State(now) {
	case domain.StateScheduled:
		return domain.ErrNotOpenYet
	case domain.StateClosed:
		return domain.ErrDeploymentClosed
	default:
		return nil
	}
}

func elapsedSeconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
