package counter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/capability/capabilitytest"
	"github.com/wesleyorama2/kpcbench/internal/catalog"
	"github.com/wesleyorama2/kpcbench/internal/counter"
)

var demoRequests = []counter.Request{
	{Name: "cycles", Key: "FIXED_CYCLES"},
	{Name: "instructions", Key: "FIXED_INSTRUCTIONS"},
	{Name: "branches", Key: "INST_BRANCH"},
	{Name: "branch misses", Key: "BRANCH_MISPRED_NONSPEC"},
	{Name: "subroutine calls", Key: "INST_BRANCH_CALL"},
}

func build(t *testing.T, pmu *capabilitytest.PMU, reqs []counter.Request, opts counter.Options) (*counter.Config, error) {
	t.Helper()
	table := pmu.Table()
	cat, err := catalog.Open(&table.Kperfdata, "")
	require.NoError(t, err)
	return counter.Build(&table.Kperfdata, cat, reqs, opts)
}

func TestBuildDemoEvents(t *testing.T) {
	pmu := capabilitytest.New(nil)

	cfg, err := build(t, pmu, demoRequests, counter.Options{})
	require.NoError(t, err)

	assert.Equal(t, capability.ClassFixed|capability.ClassConfigurable, cfg.Classes)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, cfg.SlotMap)
	require.Len(t, cfg.Registers, 8)
	assert.Equal(t, []uint64{0x8d, 0xcb, 0x8e, 0, 0, 0, 0, 0}, cfg.Registers)

	assert.Equal(t, 0, pmu.OpenDatabases(), "build must close the catalog")
	assert.Equal(t, 0, pmu.OpenConfigs(), "build must free the kpep config")
	assert.Empty(t, pmu.Calls(), "build must not touch counter hardware")
}

func TestBuildClassMask(t *testing.T) {
	tests := []struct {
		name        string
		keys        []string
		wantClasses uint32
		wantSlots   []int
		wantRegs    int
	}{
		{
			name:        "fixed only",
			keys:        []string{"FIXED_INSTRUCTIONS", "FIXED_CYCLES"},
			wantClasses: capability.ClassFixed,
			wantSlots:   []int{1, 0},
			wantRegs:    0,
		},
		{
			name:        "configurable only",
			keys:        []string{"INST_LDST", "INST_BRANCH"},
			wantClasses: capability.ClassConfigurable,
			wantSlots:   []int{0, 1},
			wantRegs:    8,
		},
		{
			name:        "mixed",
			keys:        []string{"INST_LDST", "FIXED_CYCLES"},
			wantClasses: capability.ClassFixed | capability.ClassConfigurable,
			wantSlots:   []int{2, 0},
			wantRegs:    8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs := make([]counter.Request, len(tt.keys))
			for i, k := range tt.keys {
				reqs[i] = counter.Request{Name: k, Key: k}
			}

			cfg, err := build(t, capabilitytest.New(nil), reqs, counter.Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantClasses, cfg.Classes)
			assert.Equal(t, tt.wantSlots, cfg.SlotMap)
			assert.Len(t, cfg.Registers, tt.wantRegs)
		})
	}
}

func TestBuildUserSpaceOnly(t *testing.T) {
	cfg, err := build(t, capabilitytest.New(nil), demoRequests, counter.Options{UserSpaceOnly: true})
	require.NoError(t, err)

	assert.NotEqual(t, uint64(0x8d), cfg.Registers[0])
	assert.Equal(t, uint64(0x8d), cfg.Registers[0]&0xffff)
}

func TestBuildDuplicateKeysShareSlot(t *testing.T) {
	reqs := []counter.Request{
		{Name: "branches", Key: "INST_BRANCH"},
		{Name: "cycles", Key: "FIXED_CYCLES"},
		{Name: "branches again", Key: "INST_BRANCH"},
	}

	cfg, err := build(t, capabilitytest.New(nil), reqs, counter.Options{})
	require.NoError(t, err)

	require.Len(t, cfg.SlotMap, 3)
	assert.Equal(t, cfg.SlotMap[0], cfg.SlotMap[2])
	assert.NotEqual(t, cfg.SlotMap[0], cfg.SlotMap[1])
	assert.Equal(t, uint64(0x8d), cfg.Registers[0])
	assert.Zero(t, cfg.Registers[1], "a duplicate key must not consume a second counter")
}

func TestBuildUnknownEvent(t *testing.T) {
	pmu := capabilitytest.New(nil)
	reqs := []counter.Request{
		{Name: "cycles", Key: "FIXED_CYCLES"},
		{Name: "bogus", Key: "NOT_A_REAL_EVENT"},
	}

	cfg, err := build(t, pmu, reqs, counter.Options{})
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, kpcerrors.ErrEventNotFound)

	var kerr *kpcerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "bogus", kerr.Event)
	assert.Equal(t, "NOT_A_REAL_EVENT", kerr.Key)
	assert.Equal(t, []int{1}, kerr.Indices)

	assert.Empty(t, pmu.Calls())
	assert.Equal(t, 0, pmu.OpenDatabases())
	assert.Equal(t, 0, pmu.OpenConfigs())

	_, err = build(t, pmu, demoRequests, counter.Options{})
	assert.NoError(t, err)
}

func TestBuildTooManyConfigurableEvents(t *testing.T) {
	var reqs []counter.Request
	for _, ev := range capabilitytest.DefaultEvents() {
		if !ev.Fixed {
			reqs = append(reqs, counter.Request{Name: ev.Name, Key: ev.Name})
		}
	}
	require.Len(t, reqs, 9)

	pmu := capabilitytest.New(nil)
	_, err := build(t, pmu, reqs, counter.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, kpcerrors.ErrConflictingEvents)

	var kerr *kpcerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, kerr.Indices)
	assert.Equal(t, int32(capability.KpepConflictingEvents), kerr.Code)
	assert.Equal(t, 0, pmu.OpenConfigs())
}

func TestBuildConflictingPair(t *testing.T) {
	pmu := capabilitytest.New(nil)
	pmu.Conflicts = [][2]string{{"INST_BRANCH", "INST_LDST"}}
	reqs := []counter.Request{
		{Name: "cycles", Key: "FIXED_CYCLES"},
		{Name: "branches", Key: "INST_BRANCH"},
		{Name: "loads", Key: "INST_LDST"},
	}

	_, err := build(t, pmu, reqs, counter.Options{})
	require.Error(t, err)

	var kerr *kpcerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kpcerrors.KindConflictingEvents, kerr.Kind)
	assert.Equal(t, "loads", kerr.Event)
	assert.Equal(t, []int{1, 2}, kerr.Indices)
}

func TestBuildUnforced(t *testing.T) {
	var reqs []counter.Request
	for _, ev := range capabilitytest.DefaultEvents()[2:9] {
		reqs = append(reqs, counter.Request{Name: ev.Name, Key: ev.Name})
	}

	_, err := build(t, capabilitytest.New(nil), reqs, counter.Options{Unforced: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, kpcerrors.ErrInvariant)

	var kerr *kpcerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, int32(capability.KpepCountersNotForced), kerr.Code)

	_, err = build(t, capabilitytest.New(nil), reqs[:6], counter.Options{Unforced: true})
	assert.NoError(t, err)
}

func TestBuildRegisterCountOverMax(t *testing.T) {
	pmu := capabilitytest.New(nil)
	pmu.ReportedKPCCount = capability.MaxCounters + 1

	_, err := build(t, pmu, demoRequests, counter.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, kpcerrors.ErrInvariant)
	assert.Equal(t, 0, pmu.OpenConfigs())
}

func TestBuildRegisterBufferTooSmall(t *testing.T) {
	pmu := capabilitytest.New(nil)
	pmu.ReportedKPCCount = 2

	_, err := build(t, pmu, demoRequests, counter.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, kpcerrors.ErrInvariant)
}

func TestBuildNoEvents(t *testing.T) {
	pmu := capabilitytest.New(nil)

	_, err := build(t, pmu, nil, counter.Options{})
	assert.ErrorIs(t, err, kpcerrors.ErrInvariant)
	assert.Equal(t, 0, pmu.OpenDatabases())
}

func TestBuildClosedCatalog(t *testing.T) {
	pmu := capabilitytest.New(nil)
	table := pmu.Table()
	cat, err := catalog.Open(&table.Kperfdata, "")
	require.NoError(t, err)
	require.NoError(t, cat.Close())

	_, err = counter.Build(&table.Kperfdata, cat, demoRequests, counter.Options{})
	assert.ErrorIs(t, err, kpcerrors.ErrCatalog)
}
