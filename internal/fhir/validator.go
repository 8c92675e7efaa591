// Package fhir validates and renders the structured clinical documents
// carried by "fhir" messages.
package fhir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrNotObject is returned when a document is not a JSON object.
	ErrNotObject = errors.New("document is not an object")

	// ErrMissingResourceType is returned when resourceType is absent or empty.
	ErrMissingResourceType = errors.New("resourceType is required")

	// ErrFieldType is returned when a known field has the wrong JSON type.
	ErrFieldType = errors.New("field has wrong type")
)

// ResourceTypeValidator accepts any JSON object whose resourceType is a
// non-empty string. The optional id and meta fields are type-checked when
// present; everything else is accepted unchecked.
type ResourceTypeValidator struct{}

// Valid implements relay.Validator.
func (ResourceTypeValidator) Valid(data json.RawMessage) bool {
	if err := Check(data); err != nil {
		log.Printf("Invalid FHIR data: %v", err)
		return false
	}
	return true
}

// Check returns the first schema violation in data, or nil. Only the top
// level is decoded; fields other than resourceType, id and meta are never
// looked at.
func Check(data json.RawMessage) error {
	fields, err := topLevel(data)
	if err != nil {
		return err
	}

	raw, ok := fields["resourceType"]
	if !ok {
		return ErrMissingResourceType
	}
	rt, err := value(raw)
	if err != nil {
		return fmt.Errorf("%w: resourceType: %v", ErrFieldType, err)
	}
	if _, isString := rt.GetKind().(*structpb.Value_StringValue); !isString {
		return fmt.Errorf("%w: resourceType must be a string", ErrFieldType)
	}
	if rt.GetStringValue() == "" {
		return ErrMissingResourceType
	}

	if raw, ok := fields["id"]; ok {
		id, err := value(raw)
		if err != nil {
			return fmt.Errorf("%w: id: %v", ErrFieldType, err)
		}
		if _, isString := id.GetKind().(*structpb.Value_StringValue); !isString {
			return fmt.Errorf("%w: id must be a string", ErrFieldType)
		}
	}
	if raw, ok := fields["meta"]; ok && !isObject(raw) {
		return fmt.Errorf("%w: meta must be an object", ErrFieldType)
	}
	return nil
}

// topLevel splits a JSON object into its members without decoding them.
func topLevel(data json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	return fields, nil
}

func value(raw json.RawMessage) (*structpb.Value, error) {
	var v structpb.Value
	if err := protojson.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// isObject reports whether raw is a JSON object. The contents are not
// converted, so members protobuf cannot represent are still accepted.
func isObject(raw json.RawMessage) bool {
	if v, err := value(raw); err == nil {
		_, ok := v.GetKind().(*structpb.Value_StructValue)
		return ok
	}
	tok, err := json.NewDecoder(bytes.NewReader(raw)).Token()
	return err == nil && tok == json.Delim('{')
}

// ResourceType returns the document's resourceType, or "" if it has none.
func ResourceType(data json.RawMessage) string {
	fields, err := topLevel(data)
	if err != nil {
		return ""
	}
	raw, ok := fields["resourceType"]
	if !ok {
		return ""
	}
	v, err := value(raw)
	if err != nil {
		return ""
	}
	return v.GetStringValue()
}

// Pretty renders a JSON document indented by two spaces. Member order and
// number literals are kept exactly as received.
func Pretty(data json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return buf.String(), nil
}
