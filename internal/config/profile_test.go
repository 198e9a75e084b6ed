package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wesleyorama2/kpcbench/kpc"
)

const yamlProfile = `
name: branches
description: branch prediction behaviour
model: a14
userSpaceOnly: true
repeat: 5
workload:
  name: spin
  iterations: 5000
events:
  - name: cycles
    key: FIXED_CYCLES
  - name: branch misses
    key: BRANCH_MISPRED_NONSPEC
resolver:
  cacheFailure: true
  kperfPath: /tmp/kperf
output:
  format: json
  noColor: true
`

func TestParseProfile_YAML(t *testing.T) {
	p, err := ParseProfile([]byte(yamlProfile), "branches.yaml")
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}

	if p.Name != "branches" {
		t.Errorf("Name = %q, want branches", p.Name)
	}
	if !p.UserSpaceOnly {
		t.Error("UserSpaceOnly = false, want true")
	}
	if p.Repeat != 5 {
		t.Errorf("Repeat = %d, want 5", p.Repeat)
	}
	if p.Workload.Name != "spin" || p.Workload.Iterations != 5000 {
		t.Errorf("Workload = %+v, want spin/5000", p.Workload)
	}
	want := []kpc.EventRequest{
		{Name: "cycles", Key: "FIXED_CYCLES"},
		{Name: "branch misses", Key: "BRANCH_MISPRED_NONSPEC"},
	}
	if len(p.Events) != len(want) {
		t.Fatalf("len(Events) = %d, want %d", len(p.Events), len(want))
	}
	for i := range want {
		if p.Events[i] != want[i] {
			t.Errorf("Events[%d] = %+v, want %+v", i, p.Events[i], want[i])
		}
	}
	if p.CachePolicy() != kpc.CacheFailure {
		t.Errorf("CachePolicy() = %v, want cache-failure", p.CachePolicy())
	}
	if got := p.Paths(); got.Kperf != "/tmp/kperf" || got.Kperfdata != "" {
		t.Errorf("Paths() = %+v", got)
	}
	if p.Output.Format != "json" || !p.Output.NoColor {
		t.Errorf("Output = %+v", p.Output)
	}
}

func TestParseProfile_JSON(t *testing.T) {
	data := `{
		"name": "minimal",
		"events": [{"name": "instructions", "key": "FIXED_INSTRUCTIONS"}]
	}`

	p, err := ParseProfile([]byte(data), "minimal.json")
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}
	if len(p.Events) != 1 || p.Events[0].Key != "FIXED_INSTRUCTIONS" {
		t.Errorf("Events = %+v", p.Events)
	}
	if p.CachePolicy() != kpc.RetryOnFailure {
		t.Errorf("CachePolicy() = %v, want retry", p.CachePolicy())
	}
}

func TestParseProfile_SchemaErrors(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantField string
	}{
		{
			name:      "missing events",
			data:      "name: empty\n",
			wantField: "/",
		},
		{
			name:      "unknown field",
			data:      "events:\n  - {name: cycles, key: FIXED_CYCLES}\nthreads: 4\n",
			wantField: "/",
		},
		{
			name:      "event without key",
			data:      "events:\n  - name: cycles\n",
			wantField: "/events/0",
		},
		{
			name:      "negative repeat",
			data:      "repeat: -1\nevents:\n  - {name: cycles, key: FIXED_CYCLES}\n",
			wantField: "/repeat",
		},
		{
			name:      "bad format",
			data:      "events:\n  - {name: cycles, key: FIXED_CYCLES}\noutput:\n  format: junit\n",
			wantField: "/output/format",
		},
		{
			name:      "wrong type",
			data:      "userSpaceOnly: sometimes\nevents:\n  - {name: cycles, key: FIXED_CYCLES}\n",
			wantField: "/userSpaceOnly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.data), "profile.yaml")
			if err == nil {
				t.Fatal("ParseProfile() expected error")
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error %T is not *ValidationErrors: %v", err, err)
			}
			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on field %q in: %v", tt.wantField, err)
			}
		})
	}
}

func TestParseProfile_SyntaxErrors(t *testing.T) {
	if _, err := ParseProfile([]byte("{not json"), "p.json"); err == nil ||
		!strings.Contains(err.Error(), "failed to parse JSON profile") {
		t.Errorf("JSON syntax error = %v", err)
	}
	if _, err := ParseProfile([]byte("events: [\n"), "p.yml"); err == nil ||
		!strings.Contains(err.Error(), "failed to parse YAML profile") {
		t.Errorf("YAML syntax error = %v", err)
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branches.yml")
	if err := os.WriteFile(path, []byte(yamlProfile), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.Name != "branches" {
		t.Errorf("Name = %q, want branches", p.Name)
	}

	if _, err := LoadProfile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadProfile() should fail for a missing file")
	}
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if err := p.Validate(); err != nil {
		t.Fatalf("DefaultProfile().Validate() error = %v", err)
	}

	keys := make([]string, len(p.Events))
	for i, ev := range p.Events {
		keys[i] = ev.Key
	}
	want := "FIXED_CYCLES,FIXED_INSTRUCTIONS,INST_BRANCH,BRANCH_MISPRED_NONSPEC,INST_BRANCH_CALL"
	if got := strings.Join(keys, ","); got != want {
		t.Errorf("default events = %s, want %s", got, want)
	}
}
