package cli

import (
	"errors"
	"fmt"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/config"
)

// Process exit codes. 75 and 77 follow sysexits(3).
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitEvents     = 3
	ExitBusy       = 75
	ExitPermission = 77
)

// usageError marks bad flags, arguments or profiles.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// errNotReady is returned by check when a non-blocking problem was found.
var errNotReady = errors.New("platform is not ready for counting")

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var uerr *usageError
	var verrs *config.ValidationErrors
	switch {
	case errors.Is(err, kpcerrors.ErrPermissionDenied):
		return ExitPermission
	case errors.Is(err, kpcerrors.ErrHardwareBusy):
		return ExitBusy
	case errors.Is(err, kpcerrors.ErrEventNotFound),
		errors.Is(err, kpcerrors.ErrConflictingEvents):
		return ExitEvents
	case errors.As(err, &uerr), errors.As(err, &verrs):
		return ExitUsage
	default:
		return ExitFailure
	}
}
