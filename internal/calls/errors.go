package calls

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("calls: session not found")
	ErrInvalidTransition = errors.New("calls: call no longer available")
	ErrStaleState        = errors.New("calls: call state changed")
	ErrUnauthorized      = errors.New("calls: not a participant of this call")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrBusy              = errors.New("calls: user busy")

	// Store-level errors.
	ErrConflict   = errors.New("calls: session already exists")
	ErrStaleWrite = errors.New("calls: concurrent update")
)

// BusyError lists users that already have a ringing or active session.
// errors.Is(err, ErrBusy) matches it.
type BusyError struct {
	UserIDs []string
}

func (e *BusyError) Error() string {
	return "calls: user busy: " + strings.Join(e.UserIDs, ",")
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }
