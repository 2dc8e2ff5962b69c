package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed run.schema.json
var runSchemaJSON []byte

const runSchemaURL = "schema://effmaps/run.schema.json"

var (
	compileOnce sync.Once
	runSchema   *jsonschema.Schema
	compileErr  error
)

// Schema returns the JSON schema of run configurations.
func Schema() []byte {
	return bytes.Clone(runSchemaJSON)
}

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		def, err := jsonschema.UnmarshalJSON(bytes.NewReader(runSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(runSchemaURL, def); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		runSchema, compileErr = c.Compile(runSchemaURL)
	})
	return runSchema, compileErr
}

// validateSchema checks a JSON document against the run schema.
func validateSchema(data []byte) error {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(parsed); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
