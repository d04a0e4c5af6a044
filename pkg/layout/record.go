package layout

import (
	"fmt"
	"strings"
)

// Field locates one record field relative to the record address.
type Field struct {
	Offset int64
	Size   int
}

// RecordLayout names the fields of one record kind.
type RecordLayout struct {
	Fields map[string]Field
}

// NewRecordLayout returns a layout over fields. The map is copied.
func NewRecordLayout(fields map[string]Field) RecordLayout {
	cp := make(map[string]Field, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return RecordLayout{Fields: cp}
}

// Field returns the named field
func (l RecordLayout) Field(name string) (Field, bool) {
	f, ok := l.Fields[name]
	return f, ok
}

// Require checks that every name is present with a positive size.
func (l RecordLayout) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		f, ok := l.Fields[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		if f.Size <= 0 {
			return &ConfigError{Field: n, Reason: fmt.Sprintf("non-positive field size %d", f.Size)}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Field: strings.Join(missing, ","), Reason: "missing record field"}
	}
	return nil
}

// Names returns the field names in ascending order
func (l RecordLayout) Names() []string {
	return sortedKeys(l.Fields)
}
