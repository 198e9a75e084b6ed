// Package config loads measurement profiles: which events to count, around
// which workload, and how to report the result.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/kpcbench/internal/workload"
	"github.com/wesleyorama2/kpcbench/kpc"
)

// Profile is a measurement profile.
type Profile struct {
	Name          string             `json:"name" yaml:"name"`
	Description   string             `json:"description,omitempty" yaml:"description,omitempty"`
	Model         string             `json:"model,omitempty" yaml:"model,omitempty"`
	UserSpaceOnly bool               `json:"userSpaceOnly,omitempty" yaml:"userSpaceOnly,omitempty"`
	Repeat        int                `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	Workload      WorkloadConfig     `json:"workload,omitempty" yaml:"workload,omitempty"`
	Events        []kpc.EventRequest `json:"events" yaml:"events"`
	Resolver      ResolverConfig     `json:"resolver,omitempty" yaml:"resolver,omitempty"`
	Output        OutputConfig       `json:"output,omitempty" yaml:"output,omitempty"`
}

// WorkloadConfig selects a built-in workload.
type WorkloadConfig struct {
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Iterations int    `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

// ResolverConfig controls how the capability modules are loaded.
type ResolverConfig struct {
	CacheFailure  bool   `json:"cacheFailure,omitempty" yaml:"cacheFailure,omitempty"`
	KperfPath     string `json:"kperfPath,omitempty" yaml:"kperfPath,omitempty"`
	KperfdataPath string `json:"kperfdataPath,omitempty" yaml:"kperfdataPath,omitempty"`
}

// OutputConfig selects the report format.
type OutputConfig struct {
	Format  string `json:"format,omitempty" yaml:"format,omitempty"`
	NoColor bool   `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// DefaultProfile returns the built-in profile: cycles, instructions,
// branches, branch misses and subroutine calls around the random-branches
// workload.
func DefaultProfile() *Profile {
	return &Profile{
		Name:        "default",
		Description: "core pipeline events around a branchy loop",
		Repeat:      1,
		Workload: WorkloadConfig{
			Name:       workload.DefaultName,
			Iterations: workload.DefaultIterations,
		},
		Events: kpc.NewEvents().
			Push("cycles", "FIXED_CYCLES").
			Push("instructions", "FIXED_INSTRUCTIONS").
			Push("branches", "INST_BRANCH").
			Push("branch misses", "BRANCH_MISPRED_NONSPEC").
			Push("subroutine calls", "INST_BRANCH_CALL").
			Requests(),
		Output: OutputConfig{Format: "text"},
	}
}

// Paths returns the module locations, falling back to the system defaults.
func (p *Profile) Paths() kpc.Paths {
	return kpc.Paths{Kperf: p.Resolver.KperfPath, Kperfdata: p.Resolver.KperfdataPath}
}

// CachePolicy returns the resolver failure policy.
func (p *Profile) CachePolicy() kpc.CachePolicy {
	if p.Resolver.CacheFailure {
		return kpc.CacheFailure
	}
	return kpc.RetryOnFailure
}

// LoadProfile loads a profile from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The document is checked against the profile schema and then validated.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	return ParseProfile(data, path)
}

// ParseProfile parses profile data. The format is determined by the
// extension of path and defaults to YAML.
func ParseProfile(data []byte, path string) (*Profile, error) {
	var doc any
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON profile: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML profile: %w", err)
		}
	}

	// Both formats are normalized to JSON so schema validation and decoding
	// see the same value types.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize profile: %w", err)
	}
	var generic any
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalize profile: %w", err)
	}
	if err := ValidateDocument(generic); err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(normalized, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}
