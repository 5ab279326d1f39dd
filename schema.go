package invopipe

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// CheckpointSchema returns the JSON schema of the checkpoint record as a
// generic map. External validators and API layers can use it to check
// records without importing this package's types.
func CheckpointSchema() map[string]interface{} {
	return typeToSchema(&WorkflowState{})
}

// HistoryEntrySchema returns the JSON schema of a single history entry.
func HistoryEntrySchema() map[string]interface{} {
	return typeToSchema(&HistoryEntry{})
}

// typeToSchema reflects a JSON schema for an instance and flattens it to a
// map.
func typeToSchema(instance interface{}) map[string]interface{} {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,  // avoid $ref so downstream validation stays simple
		AllowAdditionalProperties: false, // strictly match schema properties
	}

	schema := reflector.Reflect(instance)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	if _, exists := schemaMap["type"]; !exists {
		schemaMap["type"] = "object"
	}

	return schemaMap
}
