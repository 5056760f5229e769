package domain

import "time"

const (
	MinDurationMinutes = 30
	MaxSubmissions     = 2
	MaxCheatingEvents  = 3
)

// Activation is the only stored piece of deployment state.
type Activation string

const (
	Activated   Activation = "activated"
	Deactivated Activation = "deactivated"
)

func (a Activation) Valid() bool {
	return a == Activated || a == Deactivated
}

// State is derived from the clock, the window and the activation flag.
// It is never stored.
type State string

const (
	StateScheduled State = "scheduled"
	StateOpen      State = "open"
	StateClosed    State = "closed"
)

// Deployment schedules one exam for one cohort. Its snapshot lives with the
// record but is loaded separately through the snapshot cache.
type Deployment struct {
	ID              string     `json:"id"`
	ExamID          string     `json:"exam_id"`
	CohortID        string     `json:"cohort_id"`
	AccessCode      string     `json:"access_code"`
	OpenAt          time.Time  `json:"open_at"`
	CloseAt         time.Time  `json:"close_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Activation      Activation `json:"activation"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// State derives the window state at now.
func (d Deployment) State(now time.Time) State {
	if d.Activation == Deactivated || !now.Before(d.CloseAt) {
		return StateClosed
	}
	if now.Before(d.OpenAt) {
		return StateScheduled
	}
	return StateOpen
}

// Started reports whether the window has opened at now.
func (d Deployment) Started(now time.Time) bool {
	return !now.Before(d.OpenAt)
}

// ValidateWindow checks the schedule invariants shared by create and patch.
func ValidateWindow(openAt, closeAt time.Time, durationMinutes int) error {
	if !openAt.Before(closeAt) {
		return Validation("open_at must be before close_at")
	}
	if durationMinutes < MinDurationMinutes {
		return Validation("duration must be at least %d minutes", MinDurationMinutes)
	}
	return nil
}

// Attempt is a submitter's in-progress session on a deployment.
type Attempt struct {
	DeploymentID  string
	SubmitterID   string
	StartedAt     time.Time
	CheatingCount int
	Answers       AnswerSheet
	Completed     bool
}

// Submission is one finalized, graded attempt. It is never mutated after
// it has been stored.
type Submission struct {
	ID              string      `json:"id"`
	DeploymentID    string      `json:"deployment_id"`
	SubmitterID     string      `json:"submitter_id"`
	Ordinal         int         `json:"ordinal"`
	StartedAt       time.Time   `json:"started_at"`
	CheatingCount   int         `json:"cheating_count"`
	Answers         AnswerSheet `json:"answers"`
	Score           int         `json:"score"`
	CorrectCount    int         `json:"correct_count"`
	ForcedCompleted bool        `json:"forced_completed"`
	CreatedAt       time.Time   `json:"created_at"`
}
