package jobmanager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var (
	// ErrJobNotFound is returned for unknown or deleted job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when registering an id that is already active.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrGuardViolation is wrapped by every rejected lifecycle command.
	ErrGuardViolation = errors.New("lifecycle guard violation")

	ErrAlreadyEnabled = errors.New("job already enabled")
	ErrJobRunning     = errors.New("job is running")
	ErrJobDisabled    = errors.New("job is disabled")
	ErrNotRunning     = errors.New("job is not running")
	ErrNoError        = errors.New("job has no error to clear")
)

// GuardError reports a lifecycle command rejected by its precondition.
// A rejected command changes nothing.
type GuardError struct {
	Command Command
	JobID   types.JobID
	Err     error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s %s rejected: %v", strings.ToLower(string(e.Command)), e.JobID, e.Err)
}

// Unwrap exposes both ErrGuardViolation and the specific guard.
func (e *GuardError) Unwrap() []error {
	return []error{ErrGuardViolation, e.Err}
}

func guard(cmd Command, id types.JobID, err error) error {
	return &GuardError{Command: cmd, JobID: id, Err: err}
}

func notFound(id types.JobID) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}
