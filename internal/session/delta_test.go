package session

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/counter"
)

// scriptedKperf returns a table whose thread counter reads replay snapshots.
func scriptedKperf(reads ...Snapshot) *capability.Kperf {
	n := 0
	ok := func(uint32) int32 { return 0 }
	return &capability.Kperf{
		SetCounting:       ok,
		SetThreadCounting: ok,
		SetConfig:         func(uint32, *uint64) int32 { return 0 },
		GetCounterCount:   func(uint32) uint32 { return 2 },
		GetConfigCount:    func(uint32) uint32 { return 0 },
		ForceAllCtrsSet:   func(int32) int32 { return 0 },
		ForceAllCtrsGet: func(v *int32) int32 {
			*v = 0
			return 0
		},
		GetThreadCounters: func(_ uint32, count uint32, buf *uint64) int32 {
			snap := reads[n]
			n++
			copy(unsafe.Slice(buf, count), snap[:count])
			return 0
		},
	}
}

func TestDeltaWraparound(t *testing.T) {
	var before, after Snapshot
	before[0], after[0] = ^uint64(0)-4, 10
	before[1], after[1] = 100, 250

	reqs := []counter.Request{{Name: "cycles", Key: "FIXED_CYCLES"}, {Name: "instructions", Key: "FIXED_INSTRUCTIONS"}}
	cfg := &counter.Config{Classes: capability.ClassFixed, SlotMap: []int{0, 1}}
	s := New(scriptedKperf(before, after), cfg, reqs)

	require.NoError(t, s.Arm())
	deltas, err := s.Finish()
	require.NoError(t, err)

	require.Len(t, deltas, 2)
	assert.Equal(t, uint64(15), deltas[0].Count)
	assert.Equal(t, uint64(150), deltas[1].Count)
}
