package proto

import (
	"errors"
	"fmt"
	"strings"
)

// Schema is the device-declared field list for an object. It is advisory:
// the engine caches and displays it but never validates values against it.
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`

	// runtime hints the device may attach
	Subscribable bool `json:"subscribable,omitempty"`
	ReadOnly     bool `json:"readOnly,omitempty"`
	Discoverable bool `json:"discoverable,omitempty"`

	// subscription metadata echoed on discover.response
	SubscriberCount int  `json:"subscriber_count,omitempty"`
	Subscribed      bool `json:"subscribed,omitempty"`
}

type Field struct {
	Name string `json:"name"`
	Type string `json:"type"` // "boolean", "number", "string"
}

var validFieldTypes = map[string]bool{
	"boolean": true,
	"number":  true,
	"string":  true,
}

func (s *Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("schema name is required")
	}
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema %q has a field with no name", s.Name)
		}
		if !validFieldTypes[f.Type] {
			return fmt.Errorf("invalid field type %q at %s.%s", f.Type, s.Name, f.Name)
		}
	}
	return nil
}

// Field returns the named field declaration, if the schema carries one.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
