package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

const schemaURL = "https://docqa.local/schemas/config.json"

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc interface{}
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			schemaErr = fmt.Errorf("invalid embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("failed to add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks cfg against the configuration schema and the constraints
// the schema cannot express.
func Validate(cfg *AppConfig) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	// The schema sees the config the way it is written to disk.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return err
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	if cfg.Chunker.Overlap >= cfg.Chunker.Size {
		return fmt.Errorf("%w: chunker.overlap (%d) must be smaller than chunker.size (%d)",
			domain.ErrConfiguration, cfg.Chunker.Overlap, cfg.Chunker.Size)
	}
	return nil
}
