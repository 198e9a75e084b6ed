package capability

import "fmt"

// KpepError is a kpep_config_error_code returned by kperfdata functions.
type KpepError int32

const (
	KpepNone                 KpepError = 0
	KpepInvalidArgument      KpepError = 1
	KpepOutOfMemory          KpepError = 2
	KpepIO                   KpepError = 3
	KpepBufferTooSmall       KpepError = 4
	KpepCurSystemUnknown     KpepError = 5
	KpepDBPathInvalid        KpepError = 6
	KpepDBNotFound           KpepError = 7
	KpepDBArchUnsupported    KpepError = 8
	KpepDBVersionUnsupported KpepError = 9
	KpepDBCorrupt            KpepError = 10
	KpepEventNotFound        KpepError = 11
	KpepConflictingEvents    KpepError = 12
	KpepCountersNotForced    KpepError = 13
	KpepEventUnavailable     KpepError = 14
	KpepErrno                KpepError = 15
)

var kpepErrorNames = [...]string{
	"none",
	"invalid argument",
	"out of memory",
	"I/O",
	"buffer too small",
	"current system unknown",
	"database path invalid",
	"database not found",
	"database architecture unsupported",
	"database version unsupported",
	"database corrupt",
	"event not found",
	"conflicting events",
	"all counters must be forced",
	"event unavailable",
	"check errno",
}

// String returns the platform description of the code.
func (e KpepError) String() string {
	if e >= 0 && int(e) < len(kpepErrorNames) {
		return kpepErrorNames[e]
	}
	return fmt.Sprintf("unknown error (%d)", int32(e))
}
