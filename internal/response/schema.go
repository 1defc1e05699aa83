package response

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/amin2ace/fleet-core/internal/router"
)

// correlatedFields is the schema fragment shared by every response kind.
const correlatedFields = `
	"requestId": {"type": "string", "minLength": 1},
	"deviceId": {"type": "string", "minLength": 1}
`

// rawSchemas holds the JSON Schema source per message kind. Draft-07.
// Unknown extra fields are tolerated; devices ship firmware revisions
// that add fields before the core learns about them.
var rawSchemas = map[router.Kind]string{
	router.KindDiscovery: `{
		"type": "object",
		"required": ["requestId", "deviceId", "responseCode", "capabilities"],
		"properties": {` + correlatedFields + `,
			"responseCode": {"type": "integer"},
			"capabilities": {"type": "array", "items": {"type": "string", "minLength": 1}}
		}
	}`,

	router.KindAssignmentAck: `{
		"type": "object",
		"required": ["requestId", "deviceId", "status"],
		"properties": {` + correlatedFields + `,
			"status": {"type": "string", "minLength": 1},
			"functionality": {"type": "array", "items": {"type": "string", "minLength": 1}}
		}
	}`,

	router.KindHeartbeat: `{
		"type": "object",
		"required": ["requestId", "deviceId", "status"],
		"properties": {` + correlatedFields + `,
			"status": {"type": "string", "enum": ["online", "error"]},
			"timestamp": {"type": "string", "format": "date-time"}
		}
	}`,

	router.KindTelemetry: `{
		"type": "object",
		"required": ["requestId", "deviceId", "responseCode", "readings"],
		"properties": {` + correlatedFields + `,
			"responseCode": {"type": "integer"},
			"readings": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["metric", "value"],
					"properties": {
						"metric": {"type": "string", "minLength": 1},
						"value": {"type": "number"},
						"recordedAt": {"type": "string", "format": "date-time"}
					}
				}
			}
		}
	}`,

	router.KindHardwareStatus: `{
		"type": "object",
		"required": ["requestId", "deviceId", "status"],
		"properties": {` + correlatedFields + `,
			"status": {"type": "string", "minLength": 1},
			"detail": {"type": "object"},
			"timestamp": {"type": "string", "format": "date-time"}
		}
	}`,

	router.KindConfigAck: `{
		"type": "object",
		"required": ["requestId", "deviceId", "status"],
		"properties": {` + correlatedFields + `,
			"status": {"type": "string", "minLength": 1}
		}
	}`,

	router.KindRebootAck: `{
		"type": "object",
		"required": ["requestId", "deviceId", "status"],
		"properties": {` + correlatedFields + `,
			"status": {"type": "string", "minLength": 1},
			"timestamp": {"type": "string", "format": "date-time"}
		}
	}`,

	router.KindUpgradeAck: `{
		"type": "object",
		"required": ["requestId", "deviceId", "status"],
		"properties": {` + correlatedFields + `,
			"status": {"type": "string", "minLength": 1},
			"progress": {"type": "integer", "minimum": 0, "maximum": 100}
		}
	}`,
}

// compiledSchemas caches compiled schemas per kind, built once at
// package load. Compilation failures are programmer errors in the
// literals above, so they panic at startup rather than per-message.
var compiledSchemas = func() map[router.Kind]*gojsonschema.Schema {
	out := make(map[router.Kind]*gojsonschema.Schema, len(rawSchemas))
	for kind, raw := range rawSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("response: compiling schema for %s: %v", kind, err))
		}
		out[kind] = schema
	}
	return out
}()

// checkSchema validates payload against the schema for kind.
//
// Every failing field is collected, not just the first; operators
// debugging a misbehaving device need the full picture in one log line.
//
// Returns:
//   - error: ErrUnsupportedKind, *ValidationError, or nil
func checkSchema(kind router.Kind, payload []byte) error {
	schema, ok := compiledSchemas[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &ValidationError{
			Kind:   kind,
			Fields: []FieldError{{Field: "(payload)", Description: err.Error()}},
		}
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Kind: kind}
	for _, fe := range result.Errors() {
		verr.Fields = append(verr.Fields, FieldError{
			Field:       fe.Field(),
			Description: fe.Description(),
		})
	}
	return verr
}
