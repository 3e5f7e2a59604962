package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// fileSchema describes the on-disk configuration file. Unknown keys are
// allowed so older files keep loading.
const fileSchema = `{
  "type": "object",
  "properties": {
    "inference": {
      "type": "object",
      "properties": {
        "provider":    {"type": "string", "enum": ["groq", "openai", "anthropic"]},
        "api_key":     {"type": "string"},
        "base_url":    {"type": "string"},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "max_tokens":  {"type": "integer", "minimum": 1},
        "request_timeout_ms": {"type": "integer", "minimum": 0}
      }
    },
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["label", "id"],
        "properties": {
          "label": {"type": "string", "minLength": 1},
          "id":    {"type": "string", "minLength": 1}
        }
      }
    },
    "default_model": {"type": "string"},
    "database": {
      "type": "object",
      "properties": {
        "driver":             {"type": "string", "enum": ["mysql", "sqlite3", "none", ""]},
        "host":               {"type": "string"},
        "port":               {"type": "integer", "minimum": 0, "maximum": 65535},
        "user":               {"type": "string"},
        "password":           {"type": "string"},
        "name":               {"type": "string"},
        "path":               {"type": "string"},
        "table":              {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
        "connect_timeout_ms": {"type": "integer", "minimum": 0},
        "write_timeout_ms":   {"type": "integer", "minimum": 0}
      }
    },
    "session": {
      "type": "object",
      "properties": {
        "display_name": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "addr":    {"type": "string"}
      }
    },
    "data_dir": {"type": "string"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func schema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(fileSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile config schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateDocument validates a raw JSON configuration document against the file schema
func ValidateDocument(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if !result.Valid() {
		errors := []string{}
		for _, e := range result.Errors() {
			errors = append(errors, e.String())
		}
		return fmt.Errorf("config validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
