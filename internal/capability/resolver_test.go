package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/capability/capabilitytest"
)

func TestResolveBindsEverySymbol(t *testing.T) {
	pmu := capabilitytest.New(nil)
	opener := pmu.Opener()
	r := capability.NewResolver(capability.WithOpener(opener))

	table, err := r.Resolve()
	require.NoError(t, err)
	require.NotNil(t, table)

	for name, fn := range capability.Funcs(table) {
		assert.NotNil(t, fn, "symbol %s", name)
	}
	assert.Equal(t, uint32(3), table.Kperf.PMUVersion())
	assert.Equal(t, 2, opener.OpenLibraries())

	again, err := r.Resolve()
	require.NoError(t, err)
	assert.Same(t, table, again)
	assert.Equal(t, 2, opener.Opens(), "successful table must be cached")

	require.NoError(t, r.Close())
	assert.Equal(t, 0, opener.OpenLibraries())
}

func TestResolveMissingModule(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantDetail string
		wantOpen   int
	}{
		{
			name:       "kperf",
			path:       capability.KperfPath,
			wantDetail: "failed to load kperf.framework at " + capability.KperfPath,
		},
		{
			name:       "kperfdata",
			path:       capability.KperfdataPath,
			wantDetail: "failed to load kperfdata.framework at " + capability.KperfdataPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := capabilitytest.New(nil).Opener()
			opener.MissingModules[tt.path] = true
			r := capability.NewResolver(capability.WithOpener(opener))

			table, err := r.Resolve()
			require.Error(t, err)
			assert.Nil(t, table)
			assert.ErrorIs(t, err, kpcerrors.ErrResolution)
			assert.Contains(t, err.Error(), tt.wantDetail)
			assert.Equal(t, 0, opener.OpenLibraries(), "partially opened modules must be closed")
		})
	}
}

func TestResolveMissingSymbol(t *testing.T) {
	for _, sym := range []string{"kpc_get_thread_counters", "kpep_config_kpc_map"} {
		t.Run(sym, func(t *testing.T) {
			opener := capabilitytest.New(nil).Opener()
			opener.MissingSymbols[sym] = true
			r := capability.NewResolver(capability.WithOpener(opener))

			table, err := r.Resolve()
			require.Error(t, err)
			assert.Nil(t, table)
			assert.Equal(t, kpcerrors.KindResolution, kpcerrors.KindOf(err))
			assert.Contains(t, err.Error(), sym)
			assert.Equal(t, 0, opener.OpenLibraries())
		})
	}
}

func TestResolveRetryOnFailure(t *testing.T) {
	opener := capabilitytest.New(nil).Opener()
	opener.MissingSymbols["kpc_set_config"] = true
	r := capability.NewResolver(capability.WithOpener(opener))
	assert.Equal(t, capability.RetryOnFailure, r.Policy())

	_, err := r.Resolve()
	require.Error(t, err)

	delete(opener.MissingSymbols, "kpc_set_config")
	table, err := r.Resolve()
	require.NoError(t, err)
	assert.NotNil(t, table)
}

func TestResolveCacheFailure(t *testing.T) {
	opener := capabilitytest.New(nil).Opener()
	opener.MissingSymbols["kpc_set_config"] = true
	r := capability.NewResolver(
		capability.WithOpener(opener),
		capability.WithCachePolicy(capability.CacheFailure),
	)

	_, first := r.Resolve()
	require.Error(t, first)
	opens := opener.Opens()

	delete(opener.MissingSymbols, "kpc_set_config")
	_, second := r.Resolve()
	require.Error(t, second)
	assert.Equal(t, first, second)
	assert.Equal(t, opens, opener.Opens(), "cached failure must not reopen modules")

	require.NoError(t, r.Close())
	table, err := r.Resolve()
	require.NoError(t, err)
	assert.NotNil(t, table)
}

func TestWithPaths(t *testing.T) {
	r := capability.NewResolver(capability.WithPaths(capability.Paths{Kperf: "/tmp/kperf"}))
	assert.Equal(t, "/tmp/kperf", r.Paths().Kperf)
	assert.Equal(t, capability.KperfdataPath, r.Paths().Kperfdata)
}

func TestCachePolicyString(t *testing.T) {
	assert.Equal(t, "retry", capability.RetryOnFailure.String())
	assert.Equal(t, "cache-failure", capability.CacheFailure.String())
	assert.Equal(t, "unknown", capability.CachePolicy(9).String())
}

func TestClassNames(t *testing.T) {
	assert.Equal(t, []string{"fixed", "configurable"},
		capability.ClassNames(capability.ClassFixed|capability.ClassConfigurable))
	assert.Empty(t, capability.ClassNames(0))
}

func TestKpepErrorString(t *testing.T) {
	assert.Equal(t, "conflicting events", capability.KpepConflictingEvents.String())
	assert.Equal(t, "event not found", capability.KpepEventNotFound.String())
}
