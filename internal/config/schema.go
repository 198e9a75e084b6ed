package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed profile.schema.json
var profileSchema []byte

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func schema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("profile.schema.json", bytes.NewReader(profileSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("invalid profile schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("profile.schema.json")
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateDocument checks a decoded profile document against the profile
// schema. Schema violations are reported as ValidationErrors keyed by the
// JSON pointer of the offending value.
func ValidateDocument(doc any) error {
	s, err := schema()
	if err != nil {
		return err
	}

	if err := s.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			errs := &ValidationErrors{}
			extractValidationErrors(verr, errs)
			if errs.HasErrors() {
				return errs
			}
		}
		return fmt.Errorf("profile does not match schema: %w", err)
	}
	return nil
}

// extractValidationErrors collects the leaf causes of a schema error.
func extractValidationErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := err.InstanceLocation
		if field == "" {
			field = "/"
		}
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		extractValidationErrors(cause, errs)
	}
}
