package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/kpcbench/kpc"
)

// OutputFormat represents the available output formats
type OutputFormat string

const (
	// FormatText is the default human-readable text format
	FormatText OutputFormat = "text"
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
)

// Formats lists the supported formats.
var Formats = []OutputFormat{FormatText, FormatJSON, FormatYAML}

// ParseFormat validates a format name. The empty string selects text.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// FormatProvider is an interface for different output formatters
type FormatProvider interface {
	FormatReport(r *Report) (string, error)
	FormatEvents(database string, events []kpc.EventInfo) (string, error)
	FormatPlatform(p *kpc.Platform) (string, error)
}

// Report is what the run command prints.
type Report struct {
	Profile    string
	Workload   string
	Iterations int
	Summary    *kpc.Summary
}

// WorkloadData describes the measured workload.
type WorkloadData struct {
	Name       string `json:"name" yaml:"name"`
	Iterations int    `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

// ReportData is the structured form of a Report.
type ReportData struct {
	ID            string           `json:"id" yaml:"id"`
	Profile       string           `json:"profile,omitempty" yaml:"profile,omitempty"`
	Workload      WorkloadData     `json:"workload" yaml:"workload"`
	Database      string           `json:"database" yaml:"database"`
	UserSpaceOnly bool             `json:"userSpaceOnly" yaml:"userSpaceOnly"`
	Runs          int              `json:"runs" yaml:"runs"`
	DurationNs    int64            `json:"durationNs" yaml:"durationNs"`
	Events        []kpc.Delta      `json:"events" yaml:"events"`
	Stats         []kpc.EventStats `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// EventsData is the structured form of an event listing.
type EventsData struct {
	Database string          `json:"database" yaml:"database"`
	Count    int             `json:"count" yaml:"count"`
	Events   []kpc.EventInfo `json:"events" yaml:"events"`
}

// NewReportData flattens r. Events holds the deltas of the last run; Stats
// is only set for repeated runs.
func NewReportData(r *Report) (*ReportData, error) {
	if r == nil || r.Summary == nil || r.Summary.Last() == nil {
		return nil, fmt.Errorf("report has no measurements")
	}
	last := r.Summary.Last()

	data := &ReportData{
		ID:            r.Summary.ID.String(),
		Profile:       r.Profile,
		Workload:      WorkloadData{Name: r.Workload, Iterations: r.Iterations},
		Database:      last.Database,
		UserSpaceOnly: last.UserSpaceOnly,
		Runs:          r.Summary.Runs,
		Events:        last.Deltas,
	}
	for _, res := range r.Summary.Results {
		data.DurationNs += res.Duration.Nanoseconds()
	}
	if r.Summary.Runs > 1 {
		data.Stats = r.Summary.Stats
	}
	return data, nil
}

// JSONFormatter formats output as indented JSON
type JSONFormatter struct{}

func (f *JSONFormatter) marshal(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling JSON: %w", err)
	}
	return string(b) + "\n", nil
}

// FormatReport formats a measurement report as JSON
func (f *JSONFormatter) FormatReport(r *Report) (string, error) {
	data, err := NewReportData(r)
	if err != nil {
		return "", err
	}
	return f.marshal(data)
}

// FormatEvents formats an event listing as JSON
func (f *JSONFormatter) FormatEvents(database string, events []kpc.EventInfo) (string, error) {
	return f.marshal(newEventsData(database, events))
}

// FormatPlatform formats a platform report as JSON
func (f *JSONFormatter) FormatPlatform(p *kpc.Platform) (string, error) {
	return f.marshal(p)
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct{}

func (f *YAMLFormatter) marshal(v any) (string, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("error marshaling YAML: %w", err)
	}
	return string(b), nil
}

// FormatReport formats a measurement report as YAML
func (f *YAMLFormatter) FormatReport(r *Report) (string, error) {
	data, err := NewReportData(r)
	if err != nil {
		return "", err
	}
	return f.marshal(data)
}

// FormatEvents formats an event listing as YAML
func (f *YAMLFormatter) FormatEvents(database string, events []kpc.EventInfo) (string, error) {
	return f.marshal(newEventsData(database, events))
}

// FormatPlatform formats a platform report as YAML
func (f *YAMLFormatter) FormatPlatform(p *kpc.Platform) (string, error) {
	return f.marshal(p)
}

func newEventsData(database string, events []kpc.EventInfo) *EventsData {
	if events == nil {
		events = []kpc.EventInfo{}
	}
	return &EventsData{Database: database, Count: len(events), Events: events}
}

// GetFormatter returns the appropriate formatter for the given format
func GetFormatter(format OutputFormat, noColor bool) FormatProvider {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return NewTextFormatter(noColor)
	}
}
