package output

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/kpcbench/kpc"
)

var testID = uuid.MustParse("0b6f3c52-7a55-4c41-9a6e-0f3f8f0d2f11")

func singleRunReport() *Report {
	return &Report{
		Profile:    "default",
		Workload:   "random-branches",
		Iterations: 100000,
		Summary: &kpc.Summary{
			ID:   testID,
			Runs: 1,
			Results: []*kpc.Result{{
				ID:       testID,
				Duration: 2 * time.Millisecond,
				Database: "a14",
				Deltas: []kpc.Delta{
					{Name: "cycles", Key: "FIXED_CYCLES", Count: 1234567},
					{Name: "branch misses", Key: "BRANCH_MISPRED_NONSPEC", Count: 42},
				},
			}},
		},
	}
}

func repeatedReport() *Report {
	r := singleRunReport()
	r.Summary.Runs = 3
	r.Summary.Results = append(r.Summary.Results, r.Summary.Results[0], r.Summary.Results[0])
	r.Summary.Stats = []kpc.EventStats{
		{Name: "cycles", Key: "FIXED_CYCLES", Samples: 3, Min: 1200000, Max: 1300000, Mean: 1250000.5, P50: 1250000, P90: 1290000, P99: 1300000},
		{Name: "branch misses", Key: "BRANCH_MISPRED_NONSPEC", Samples: 3, Min: 40, Max: 44, Mean: 42, P50: 42, P90: 44, P99: 44, Saturated: 1},
	}
	return r
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"junit", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseFormat(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseFormat(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestGetFormatter(t *testing.T) {
	assert.IsType(t, &JSONFormatter{}, GetFormatter(FormatJSON, false))
	assert.IsType(t, &YAMLFormatter{}, GetFormatter(FormatYAML, false))
	assert.IsType(t, &TextFormatter{}, GetFormatter(FormatText, true))
	assert.IsType(t, &TextFormatter{}, GetFormatter("", true))
}

func TestJSONFormatter_FormatReport(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatReport(singleRunReport())
	require.NoError(t, err)
	require.True(t, gjson.Valid(out))

	assert.Equal(t, testID.String(), gjson.Get(out, "id").String())
	assert.Equal(t, "random-branches", gjson.Get(out, "workload.name").String())
	assert.Equal(t, int64(100000), gjson.Get(out, "workload.iterations").Int())
	assert.Equal(t, "a14", gjson.Get(out, "database").String())
	assert.Equal(t, int64(2), gjson.Get(out, "events.#").Int())
	assert.Equal(t, "cycles", gjson.Get(out, "events.0.name").String())
	assert.Equal(t, uint64(1234567), gjson.Get(out, "events.0.count").Uint())
	assert.Equal(t, "BRANCH_MISPRED_NONSPEC", gjson.Get(out, "events.1.key").String())
	assert.False(t, gjson.Get(out, "stats").Exists(), "single runs carry no stats")
}

func TestJSONFormatter_FormatReportRepeated(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatReport(repeatedReport())
	require.NoError(t, err)

	assert.Equal(t, int64(3), gjson.Get(out, "runs").Int())
	assert.Equal(t, int64(2), gjson.Get(out, "stats.#").Int())
	assert.Equal(t, int64(1250000), gjson.Get(out, "stats.0.p50").Int())
	assert.Equal(t, int64(6000000), gjson.Get(out, "durationNs").Int())
}

func TestFormatReportEmpty(t *testing.T) {
	for _, f := range []FormatProvider{&JSONFormatter{}, &YAMLFormatter{}, NewTextFormatter(true)} {
		_, err := f.FormatReport(&Report{Summary: &kpc.Summary{}})
		assert.Error(t, err)
	}
}

func TestYAMLFormatter_FormatReport(t *testing.T) {
	out, err := (&YAMLFormatter{}).FormatReport(singleRunReport())
	require.NoError(t, err)

	var data ReportData
	require.NoError(t, yaml.Unmarshal([]byte(out), &data))
	assert.Equal(t, "default", data.Profile)
	assert.Equal(t, 1, data.Runs)
	require.Len(t, data.Events, 2)
	assert.Equal(t, uint64(42), data.Events[1].Count)
}

func TestTextFormatter_FormatReport(t *testing.T) {
	out, err := NewTextFormatter(true).FormatReport(singleRunReport())
	require.NoError(t, err)

	assert.Contains(t, out, "kpcbench report")
	assert.Contains(t, out, "random-branches (100,000 iterations)")
	assert.Contains(t, out, "1,234,567")
	assert.NotContains(t, out, "\x1b[", "no escape codes without color")

	lines := strings.Split(out, "\n")
	var cycles, misses string
	for _, l := range lines {
		switch {
		case strings.Contains(l, "FIXED_CYCLES"):
			cycles = l
		case strings.Contains(l, "BRANCH_MISPRED_NONSPEC"):
			misses = l
		}
	}
	require.NotEmpty(t, cycles)
	require.NotEmpty(t, misses)
	assert.Equal(t, len(cycles), len(misses), "rows must be aligned")
	assert.True(t, strings.HasSuffix(misses, " 42"))
}

func TestTextFormatter_FormatReportRepeated(t *testing.T) {
	out, err := NewTextFormatter(true).FormatReport(repeatedReport())
	require.NoError(t, err)

	assert.Contains(t, out, "P50")
	assert.Contains(t, out, "1,250,000.5")
	assert.Contains(t, out, "branch misses: 1 samples exceeded the histogram range")
}

func TestTextFormatter_Color(t *testing.T) {
	out, err := NewTextFormatter(false).FormatReport(singleRunReport())
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
}

func TestFormatEvents(t *testing.T) {
	events := []kpc.EventInfo{
		{Name: "FIXED_CYCLES", Alias: "Cycles", Description: "No. of cycles"},
		{Name: "INST_BRANCH", Description: "Retired branches"},
	}

	out, err := NewTextFormatter(true).FormatEvents("a14", events)
	require.NoError(t, err)
	assert.Contains(t, out, "a14: 2 events")
	assert.Contains(t, out, "FIXED_CYCLES  No. of cycles (Cycles)")
	assert.Contains(t, out, "INST_BRANCH   Retired branches")

	js, err := (&JSONFormatter{}).FormatEvents("a14", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gjson.Get(js, "count").Int())
	assert.True(t, gjson.Get(js, "events").IsArray())
}

func TestFormatPlatform(t *testing.T) {
	ready := &kpc.Platform{
		Host:       kpc.Host{OS: "darwin", Arch: "arm64", Model: "Apple M1", LogicalCores: 8},
		Resolved:   true,
		CPU:        "Apple A14",
		PMUVersion: 3,
		Database:   "a14",
		Counters:   kpc.Counters{Fixed: 2, Configurable: 8},
		Permitted:  true,
	}

	out, err := NewTextFormatter(true).FormatPlatform(ready)
	require.NoError(t, err)
	assert.Contains(t, out, "darwin/arm64, Apple M1, 8 cores")
	assert.Contains(t, out, "2 fixed, 8 configurable")
	assert.Contains(t, out, "✓ counter access permitted")
	assert.True(t, strings.HasSuffix(out, "ready\n"))

	denied := &kpc.Platform{Resolved: true, Problems: []string{"permission denied"}}
	out, err = NewTextFormatter(true).FormatPlatform(denied)
	require.NoError(t, err)
	assert.Contains(t, out, "✗ counter access permitted")
	assert.Contains(t, out, "⚠ permission denied")
	assert.Contains(t, out, "not ready")

	js, err := (&JSONFormatter{}).FormatPlatform(ready)
	require.NoError(t, err)
	assert.Equal(t, "Apple A14", gjson.Get(js, "cpu").String())
	assert.True(t, gjson.Get(js, "permitted").Bool())
}
