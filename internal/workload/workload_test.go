package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"empty", "random-branches", "spin"}, Names())
}

func TestLookup(t *testing.T) {
	w, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, w.Name)

	_, err = Lookup("fibonacci")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "random-branches")
}

func TestWorkloadsRun(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			w, err := Lookup(name)
			require.NoError(t, err)
			assert.NotPanics(t, w.Func(1000))
			assert.NotPanics(t, w.Func(0))
		})
	}
}

func TestSpinIsDeterministic(t *testing.T) {
	w, err := Lookup("spin")
	require.NoError(t, err)

	w.Func(10)()
	first := Sink
	w.Func(10)()
	assert.Equal(t, first, Sink)
	assert.NotZero(t, first)
}
