// Package schema describes the fixed set of input fields a job accepts and
// validates submitted payloads against it.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cuongbtq/paidflow/internal/domain"
)

// Field types
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeOption  = "option"
)

// Field describes one accepted input field.
type Field struct {
	ID          string       `yaml:"id" json:"id"`
	Type        string       `yaml:"type" json:"type"`
	Name        string       `yaml:"name" json:"name,omitempty"`
	Required    bool         `yaml:"required" json:"-"`
	Data        FieldData    `yaml:"data" json:"data,omitempty"`
	Validations []Validation `yaml:"validations" json:"validations,omitempty"`
}

// FieldData carries display hints and the allowed values of option fields.
type FieldData struct {
	Description string   `yaml:"description" json:"description,omitempty"`
	Placeholder string   `yaml:"placeholder" json:"placeholder,omitempty"`
	Values      []string `yaml:"values" json:"values,omitempty"`
}

// Validation is an advertised constraint, e.g. {validation: "min", value: "1"}.
type Validation struct {
	Validation string `yaml:"validation" json:"validation"`
	Value      string `yaml:"value" json:"value"`
}

// DefaultFields is the schema used when the configuration does not define one.
func DefaultFields() []Field {
	return []Field{
		{
			ID:       "topic",
			Type:     TypeString,
			Name:     "Main Topic for Research",
			Required: true,
			Data: FieldData{
				Description: "The primary topic the workflow should research.",
				Placeholder: "e.g., AI impact",
			},
		},
	}
}

// Schema is an ordered set of fields.
type Schema struct {
	fields []Field
}

// New creates a schema from fields, falling back to DefaultFields when empty.
func New(fields []Field) *Schema {
	if len(fields) == 0 {
		fields = DefaultFields()
	}
	return &Schema{fields: slices.Clone(fields)}
}

// Fields returns a copy of the schema fields.
func (s *Schema) Fields() []Field {
	return slices.Clone(s.fields)
}

// Has reports whether a field with the given id exists.
func (s *Schema) Has(id string) bool {
	return slices.ContainsFunc(s.fields, func(f Field) bool { return f.ID == id })
}

// Validate checks required-field presence, primitive type compatibility and
// option membership. All mismatches are reported together.
func (s *Schema) Validate(input map[string]any) error {
	verr := &domain.ValidationError{}

	for _, f := range s.fields {
		val, ok := input[f.ID]
		if !ok {
			if f.Required {
				verr.Add(f.ID, "required field is missing")
			}
			continue
		}
		if reason := checkType(f, val); reason != "" {
			verr.Add(f.ID, reason)
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

func checkType(f Field, val any) string {
	switch f.Type {
	case TypeString:
		if _, ok := val.(string); !ok {
			return fmt.Sprintf("expected string, got %s", typeName(val))
		}
	case TypeNumber:
		switch val.(type) {
		case float64, float32, int, int64, int32, json.Number:
		default:
			return fmt.Sprintf("expected number, got %s", typeName(val))
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %s", typeName(val))
		}
	case TypeOption:
		str, ok := val.(string)
		if !ok {
			return fmt.Sprintf("expected option, got %s", typeName(val))
		}
		if len(f.Data.Values) > 0 && !slices.Contains(f.Data.Values, str) {
			return fmt.Sprintf("invalid option %q", str)
		}
	}
	return ""
}

func typeName(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", val)
	}
}

// Hash returns the sha256 fingerprint of the canonical JSON encoding of input:
// sorted keys, no whitespace, HTML characters left as-is and non-ASCII
// characters written as \u escapes.
func Hash(input map[string]any) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	raw := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	out := make([]byte, 0, len(raw))
	for _, r := range string(raw) {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		out = fmt.Appendf(out, "\\u%04x", r)
	}
	return out, nil
}
