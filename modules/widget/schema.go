package widget

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/guarzo/commentproxy/common"
)

// patchSchema describes the body of a widget config update. Every field is
// optional; absent fields keep their defaults.
const patchSchema = `{
  "type": "object",
  "properties": {
    "thread_id":          {"type": "string"},
    "theme":              {"enum": ["default", "dark", "light", "custom"]},
    "position":           {"enum": ["bottom-right", "bottom-left", "top-right", "top-left", "inline"]},
    "max_comments":       {"type": "integer", "minimum": 1, "maximum": 1000},
    "auto_load":          {"type": "boolean"},
    "show_timestamps":    {"type": "boolean"},
    "allow_anonymous":    {"type": "boolean"},
    "require_moderation": {"type": "boolean"},
    "custom_css":         {"type": "string", "maxLength": 20000},
    "colors": {
      "type": "object",
      "properties": {
        "primary":    {"type": "string"},
        "secondary":  {"type": "string"},
        "background": {"type": "string"},
        "text":       {"type": "string"}
      }
    }
  }
}`

var patchSchemaLoader = gojsonschema.NewStringLoader(patchSchema)

// validatePatch checks a raw update body against patchSchema and reports the
// first offending field.
func validatePatch(patch []byte) error {
	if !json.Valid(patch) {
		return common.Invalid("config", "invalid JSON")
	}

	result, err := gojsonschema.Validate(patchSchemaLoader, gojsonschema.NewBytesLoader(patch))
	if err != nil {
		return common.Invalid("config", "schema validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	field := errs[0].Field()
	if field == "" || field == "(root)" {
		field = "config"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.String())
	}
	return common.Invalid(field, "%s", strings.Join(msgs, "; "))
}
