package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  New(PhaseResolve, KindResolution).Build(),
			want: "[resolve] resolution",
		},
		{
			name: "event and key",
			err:  New(PhaseBuild, KindEventNotFound).Event("branch misses").Key("NOT_A_REAL_EVENT").Build(),
			want: `[build] event_not_found for branch misses ("NOT_A_REAL_EVENT")`,
		},
		{
			name: "key only",
			err:  New(PhaseCatalog, KindEventNotFound).Key("X").Build(),
			want: `[catalog] event_not_found for "X"`,
		},
		{
			name: "indices and code",
			err:  New(PhaseBuild, KindConflictingEvents).Indices(1, 3).Code(12).Build(),
			want: "[build] conflicting_events at indices [1 3] (code 12)",
		},
		{
			name: "detail with args and cause",
			err: New(PhaseArm, KindHardware).
				Detail("kpc_set_config returned %d", 5).
				Cause(fmt.Errorf("boom")).
				Build(),
			want: "[arm] hardware: kpc_set_config returned 5 (caused by: boom)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := New(PhaseBuild, KindEventNotFound).Event("cycles").Build()
	wrapped := fmt.Errorf("starting measurement: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrEventNotFound))
	assert.False(t, stderrors.Is(wrapped, ErrCatalog))
	assert.True(t, stderrors.Is(wrapped, &Error{Phase: PhaseBuild, Kind: KindEventNotFound}))
	assert.False(t, stderrors.Is(wrapped, &Error{Phase: PhaseCatalog, Kind: KindEventNotFound}))
}

func TestError_As(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(PhaseBuild, KindConflictingEvents).Indices(0, 2).Build())

	var kerr *Error
	require.True(t, stderrors.As(err, &kerr))
	assert.Equal(t, []int{0, 2}, kerr.Indices)
	assert.Equal(t, KindConflictingEvents, KindOf(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("dlopen failed")
	err := New(PhaseResolve, KindResolution).Cause(cause).Build()
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
	assert.Equal(t, KindPermissionDenied, KindOf(New(PhaseArm, KindPermissionDenied).Build()))

	joined := stderrors.Join(stderrors.New("a"), Invariant(PhaseFinish, "slot %d", 40))
	assert.Equal(t, KindInvariant, KindOf(joined))
}

func TestBuilder_Independent(t *testing.T) {
	b := New(PhaseArm, KindHardware)
	first := b.Detail("first").Build()
	second := b.Detail("second").Build()

	assert.Equal(t, "first", first.Detail)
	assert.Equal(t, "second", second.Detail)
}

func TestInvalidState(t *testing.T) {
	err := InvalidState(PhaseRun, "session is %s", "finished")
	assert.Equal(t, KindInvalidState, err.Kind)
	assert.Equal(t, "[run] invalid_state: session is finished", err.Error())
}
