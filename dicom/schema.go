package dicom

import (
	"encoding/json"
	"fmt"

	"github.com/pathviewer/wsiview/pyramid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// instanceSchema describes the minimal shape of a tiled instance dataset.  Per-frame
// positions are checked during parsing since TILED_FULL instances may omit them.
const instanceSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"items": {
		"type": "object",
		"required": ["00080018", "00280010", "00280011", "00480006", "00480007"],
		"properties": {
			"00080018": { "$ref": "#/definitions/single" },
			"00280010": { "$ref": "#/definitions/single" },
			"00280011": { "$ref": "#/definitions/single" },
			"00480006": { "$ref": "#/definitions/single" },
			"00480007": { "$ref": "#/definitions/single" },
			"52009230": {
				"type": "object",
				"required": ["Value"],
				"properties": { "Value": { "type": "array", "items": { "type": "object" } } }
			}
		}
	},
	"definitions": {
		"single": {
			"type": "object",
			"required": ["vr", "Value"],
			"properties": {
				"vr": { "type": "string" },
				"Value": { "type": "array", "minItems": 1 }
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("instances.json", instanceSchema)

// ValidateInstances checks a DICOM JSON instance array against the schema required for
// pyramid construction.  Failures are reported as a single *pyramid.MalformedInstanceError.
func ValidateInstances(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return &pyramid.MalformedInstanceError{Index: -1, Reason: fmt.Sprintf("bad JSON: %v", err)}
	}
	if err := compiledSchema.Validate(v); err != nil {
		return &pyramid.MalformedInstanceError{Index: -1, Reason: err.Error()}
	}
	return nil
}
