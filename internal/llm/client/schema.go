package llmclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema is the JSON-schema subset understood by every provider.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

var schemaTypes = map[string]struct{}{
	"string": {}, "number": {}, "integer": {}, "boolean": {}, "array": {}, "object": {},
}

// Validate checks that every node has a known type and that arrays declare
// their items.
func (s *Schema) Validate() error {
	return s.validate("$")
}

func (s *Schema) validate(at string) error {
	if s == nil {
		return fmt.Errorf("schema %s: nil node", at)
	}
	if _, ok := schemaTypes[s.Type]; !ok {
		return fmt.Errorf("schema %s: unknown type %q", at, s.Type)
	}
	if s.Type == "array" {
		if s.Items == nil {
			return fmt.Errorf("schema %s: array without items", at)
		}
		if err := s.Items.validate(at + "[]"); err != nil {
			return err
		}
	}
	for name, p := range s.Properties {
		if err := p.validate(at + "." + name); err != nil {
			return err
		}
	}
	for _, r := range s.Required {
		if _, ok := s.Properties[r]; !ok {
			return fmt.Errorf("schema %s: required property %q is not declared", at, r)
		}
	}
	return nil
}

// Instruction renders the schema as a prompt suffix for providers without
// native schema support.
func (s *Schema) Instruction() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON value that conforms to this JSON schema. ")
	sb.WriteString("Do not wrap it in markdown.\n")
	sb.Write(b)
	return sb.String()
}
