package entrypoint

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// FunctionSchema is the declarative description of one entry point sent to
// the completion service.
type FunctionSchema struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is the JSON Schema object describing an entry point's arguments.
type Parameters struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// Map returns the parameters as a generic JSON object, the form most provider
// SDKs accept for tool definitions.
func (p Parameters) Map() map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// Compile builds the schema for fn. The property set is exactly the annotated
// argument names; required lists the required ones in annotation order.
func Compile(fn AnnotatedFunction) FunctionSchema {
	props := make(map[string]any, len(fn.Arguments))
	required := []string{}
	for _, a := range fn.Arguments {
		if a.Schema != nil {
			props[a.Name] = a.Schema
		} else {
			props[a.Name] = map[string]any{}
		}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	return FunctionSchema{
		Name:        fn.Name,
		Description: fn.Description,
		Parameters: Parameters{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// resolveParameters compiles the parameters schema into a validator.
func resolveParameters(p Parameters) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
