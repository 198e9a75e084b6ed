package config

import (
	"fmt"
	"strings"

	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/output"
	"github.com/wesleyorama2/kpcbench/internal/workload"
)

// MaxRepeat bounds the number of repeated measurements.
const MaxRepeat = 100000

// ValidationError represents a profile validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the profile.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (p *Profile) Validate() error {
	errs := &ValidationErrors{}

	validateEvents(p, errs)

	if p.Repeat < 0 || p.Repeat > MaxRepeat {
		errs.Add("repeat", fmt.Sprintf("must be between 0 and %d", MaxRepeat))
	}

	if p.Workload.Name != "" {
		if _, err := workload.Lookup(p.Workload.Name); err != nil {
			errs.Add("workload.name", err.Error())
		}
	}
	if p.Workload.Iterations < 0 {
		errs.Add("workload.iterations", "cannot be negative")
	}

	if _, err := output.ParseFormat(p.Output.Format); err != nil {
		errs.Add("output.format", err.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateEvents(p *Profile, errs *ValidationErrors) {
	if len(p.Events) == 0 {
		errs.Add("events", "at least one event is required")
		return
	}

	names := make(map[string]int, len(p.Events))
	keys := make(map[string]bool, len(p.Events))
	for i, ev := range p.Events {
		field := fmt.Sprintf("events[%d]", i)
		if strings.TrimSpace(ev.Name) == "" {
			errs.Add(field+".name", "name is required")
		} else if first, dup := names[ev.Name]; dup {
			errs.Add(field+".name", fmt.Sprintf("duplicate name %q (also events[%d])", ev.Name, first))
		} else {
			names[ev.Name] = i
		}
		if strings.TrimSpace(ev.Key) == "" {
			errs.Add(field+".key", "key is required")
		}
		keys[ev.Key] = true
	}

	if len(keys) > capability.MaxCounters {
		errs.Add("events", fmt.Sprintf("%d distinct events requested, at most %d counters exist",
			len(keys), capability.MaxCounters))
	}
}
