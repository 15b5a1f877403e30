package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaName = "config-v1.schema.json"

// ValidateSchema checks a raw config document against the embedded JSON
// Schema before it is decoded into the Config struct. This catches typoed
// keys and out-of-range values with a field-level error message.
func ValidateSchema(data []byte, ext string) error {
	var doc any

	switch ext {
	case ".toml":
		var m map[string]any
		if _, err := toml.Decode(string(data), &m); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
		doc = m
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}

	// Normalize decoder-specific types (toml int64, yaml map keys) into
	// the json value set the schema validator expects.
	instance, err := normalizeInstance(doc)
	if err != nil {
		return err
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func normalizeInstance(doc any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize config document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("normalize config document: %w", err)
	}
	return instance, nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
