package domain

import "fmt"

// Kind classifies failures so callers can map them to transport codes.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindLocked
	KindGone
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindLocked:
		return "locked"
	case KindGone:
		return "gone"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every use case.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

// Is matches another *Error of the same kind. A target without a message
// matches every error of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Kind-only sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrLocked     = &Error{Kind: KindLocked}
	ErrGone       = &Error{Kind: KindGone}
	ErrForbidden  = &Error{Kind: KindForbidden}
)

var (
	// ErrExamNotFound is returned when the referenced exam does not exist.
	ErrExamNotFound = NotFound("exam not found")
	// ErrCohortNotFound is returned when the referenced cohort does not exist.
	ErrCohortNotFound = NotFound("cohort not found")
	// ErrQuestionNotFound is returned when a bank question id is unknown.
	ErrQuestionNotFound = NotFound("question not found")
	// ErrDeploymentNotFound is returned when a deployment id is unknown.
	ErrDeploymentNotFound = NotFound("deployment not found")
	// ErrSubmissionNotFound is returned when a submission id is unknown.
	ErrSubmissionNotFound = NotFound("submission not found")
	// ErrAttemptNotFound is returned when a submitter has no attempt in progress.
	ErrAttemptNotFound = NotFound("attempt not found")

	// ErrAlreadySubmitted is returned once a submitter used up their submissions.
	ErrAlreadySubmitted = Conflict("already submitted")
	// ErrDuplicateDeployment is returned when a pending deployment already exists for the exam and cohort.
	ErrDuplicateDeployment = Conflict("an activated deployment for this exam and cohort has not started yet")
	// ErrActivationUnchanged is returned when the requested activation equals the current one.
	ErrActivationUnchanged = Conflict("deployment already has the requested activation")
	// ErrDeploymentHasSubmissions blocks deleting a deployment that was already taken.
	ErrDeploymentHasSubmissions = Conflict("deployment has submissions")
	// ErrDuplicateAccessCode signals an access code collision; create retries on it.
	ErrDuplicateAccessCode = Conflict("access code already in use")

	// ErrCodeMismatch is returned when the supplied access code is wrong.
	ErrCodeMismatch = Validation("code mismatch")
	// ErrAttemptCompleted is returned when an already finalized attempt is touched.
	ErrAttemptCompleted = Validation("attempt already completed")
	// ErrCorruptSession is returned when a submission finished before it started.
	ErrCorruptSession = Validation("submission started after it was completed")

	// ErrNotOpenYet is returned while a deployment is still scheduled.
	ErrNotOpenYet = Locked("deployment has not opened yet")
	// ErrDeploymentClosed is returned once the window has closed or the deployment was deactivated.
	ErrDeploymentClosed = Gone("deployment is closed")
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Locked(format string, args ...any) *Error {
	return &Error{Kind: KindLocked, Msg: fmt.Sprintf(format, args...)}
}

func Gone(format string, args ...any) *Error {
	return &Error{Kind: KindGone, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}
