package registry

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"

	"github.com/inboxpilot/conduit/pkg/models"
)

// definitionSchema is the JSON Schema a catalog file must satisfy before it
// is even unmarshaled. Structural and graph validation still run inside
// Register; the schema catches malformed files with a readable error first.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "category", "steps", "entry_step_id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "category": {"type": "string", "minLength": 1},
    "entry_step_id": {"type": "string", "minLength": 1},
    "estimated_time_minutes": {"type": "integer", "minimum": 0},
    "priority": {"type": "integer"},
    "automation_level": {"enum": ["full", "assisted", "manual"]},
    "required_context": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key"],
        "properties": {"key": {"type": "string", "minLength": 1}}
      }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "type": {
            "enum": [
              "ai_action", "user_action", "smart_share",
              "provider_verification", "deliverability_fix",
              "document_generation", "email_send", "wait", "context_check"
            ]
          },
          "dependencies": {"type": "array", "items": {"type": "string"}},
          "timeout_ms": {"type": "integer", "minimum": 0},
          "max_retries": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

// LoadDirectory reads every *.json file under dir, validates it against the
// definition schema, and registers it. Returns how many definitions were
// registered.
func (r *DefinitionRegistry) LoadDirectory(logger *slog.Logger, dir string) (int, error) {
	root := os.DirFS(dir)

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return 0, fmt.Errorf("failed to list definition files in %s: %w", dir, err)
	}

	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	loaded := 0

	for _, file := range files {
		path := filepath.Join(dir, file)

		body, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", path, err)
		}

		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
		if err != nil {
			return loaded, fmt.Errorf("failed to validate %s: %w", path, err)
		}

		if !result.Valid() {
			return loaded, fmt.Errorf("definition file %s is invalid: %s",
				path, formatSchemaErrors(result))
		}

		var def models.WorkflowDefinition
		if err := json.Unmarshal(body, &def); err != nil {
			return loaded, fmt.Errorf("failed to unmarshal %s: %w", path, err)
		}

		if err := r.Register(&def); err != nil {
			return loaded, fmt.Errorf("failed to register %s: %w", path, err)
		}

		logger.Info("Registered workflow definition",
			"definition_id", def.ID, "file", file, "steps", len(def.Steps))
		loaded++
	}

	return loaded, nil
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	message := ""

	for i, err := range result.Errors() {
		if i > 0 {
			message += "; "
		}

		message += err.String()
	}

	return message
}
