package data

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataLabel classifies a data entity within its source, e.g. a subreddit or a
// hashtag. Labels are case-insensitive and canonicalized to lower case. A
// missing label is a nil *DataLabel, which is distinct from any label value.
type DataLabel struct {
	Value string `json:"value"`
}

// NewDataLabel canonicalizes and validates a label value.
func NewDataLabel(value string) (*DataLabel, error) {
	if len(value) > MaxLabelLength {
		return nil, fmt.Errorf("label value exceeds %d characters: %q", MaxLabelLength, value)
	}
	return &DataLabel{Value: strings.ToLower(value)}, nil
}

// UnmarshalJSON enforces the label constraints at the wire boundary.
func (l *DataLabel) UnmarshalJSON(b []byte) error {
	var raw struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := NewDataLabel(raw.Value)
	if err != nil {
		return err
	}
	*l = *parsed
	return nil
}

// Equal compares two optional labels, treating case differences as equal and
// nil as equal only to nil.
func (l *DataLabel) Equal(o *DataLabel) bool {
	if l == nil || o == nil {
		return l == o
	}
	return strings.EqualFold(l.Value, o.Value)
}

// Key returns a canonical map key for an optional label. The tilde prefix
// keeps the no-label key disjoint from every legal label value.
func (l *DataLabel) Key() string {
	if l == nil {
		return "~"
	}
	return "l:" + strings.ToLower(l.Value)
}

// LabelFromKey inverts Key, reconstructing the optional label a canonical
// key encodes.
func LabelFromKey(key string) *DataLabel {
	if !strings.HasPrefix(key, "l:") {
		return nil
	}
	return &DataLabel{Value: strings.TrimPrefix(key, "l:")}
}

func (l *DataLabel) String() string {
	if l == nil {
		return "null"
	}
	return l.Value
}
