package app

import (
	"context"
	"crypto/subtle"

	"exam-deployment-service/internal/domain"
)

// AccessGate checks the window and the access code before a participant
// may fetch questions or submit.
type AccessGate struct {
	base
	deployments DeploymentRepository
}

func NewAccessGate(deployments DeploymentRepository, opts ...Option) *AccessGate {
	return &AccessGate{base: newBase(opts), deployments: deployments}
}

// Verify has no side effect; it only tells the caller whether to proceed.
func (g *AccessGate) Verify(ctx context.Context, deploymentID, code string) error {
	d, err := g.deployments.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if err := requireOpen(d, g.now()); err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(d.AccessCode)) != 1 {
		return domain.ErrCodeMismatch
	}
	return nil
}
