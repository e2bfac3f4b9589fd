package structured

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaResource is the resource name the compiled schema is registered under.
const schemaResource = "contract.json"

// CompileSchema compiles a JSON Schema document.
func CompileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Schema builds a rule that validates the JSON form of T against a JSON
// Schema document. The schema is compiled once, here.
func Schema[T any](schemaJSON []byte) (Rule[T], error) {
	schema, err := CompileSchema(schemaJSON)
	if err != nil {
		return Rule[T]{}, err
	}
	return Rule[T]{
		Name: "schema",
		Check: func(v T) error {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal value: %w", err)
			}
			inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("unmarshal value: %w", err)
			}
			if err := schema.Validate(inst); err != nil {
				return &ValidationError{Reason: err.Error(), Value: json.RawMessage(data)}
			}
			return nil
		},
	}, nil
}
