package dicom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Attribute is one DICOM JSON attribute.
type Attribute struct {
	VR    string            `json:"vr"`
	Value []json.RawMessage `json:"Value,omitempty"`
}

// Object is a DICOM JSON dataset keyed by tag.
type Object map[Tag]Attribute

func (o Object) first(tag Tag) (json.RawMessage, error) {
	attr, found := o[tag]
	if !found {
		return nil, fmt.Errorf("missing attribute %s", tag)
	}
	if len(attr.Value) == 0 {
		return nil, fmt.Errorf("attribute %s has no value", tag)
	}
	return attr.Value[0], nil
}

// Has returns true if the tag is present with at least one value.
func (o Object) Has(tag Tag) bool {
	attr, found := o[tag]
	return found && len(attr.Value) != 0
}

// String returns the first value of a string-valued attribute.
func (o Object) String(tag Tag) (string, error) {
	raw, err := o.first(tag)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("attribute %s is not a string: %s", tag, raw)
	}
	return s, nil
}

// Int returns the first value of a numeric attribute.  Integer strings (IS) and
// whole-number JSON numbers are accepted.
func (o Object) Int(tag Tag) (int, error) {
	raw, err := o.first(tag)
	if err != nil {
		return 0, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("attribute %s has bad string value: %s", tag, raw)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("attribute %s is not an integer: %q", tag, s)
		}
		return n, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("attribute %s is not numeric: %s", tag, raw)
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("attribute %s is not a whole number: %s", tag, raw)
	}
	return n, nil
}

// Sequence returns the items of a sequence (SQ) attribute.
func (o Object) Sequence(tag Tag) ([]Object, error) {
	attr, found := o[tag]
	if !found {
		return nil, fmt.Errorf("missing sequence %s", tag)
	}
	items := make([]Object, len(attr.Value))
	for i, raw := range attr.Value {
		if err := json.Unmarshal(raw, &items[i]); err != nil {
			return nil, fmt.Errorf("item %d of sequence %s is not a dataset: %v", i, tag, err)
		}
	}
	return items, nil
}

// DecodeObjects decodes a DICOM JSON array of datasets.
func DecodeObjects(data []byte) ([]Object, error) {
	var objs []Object
	if err := json.Unmarshal(data, &objs); err != nil {
		return nil, fmt.Errorf("could not decode DICOM JSON: %v", err)
	}
	return objs, nil
}
