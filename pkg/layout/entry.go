// Package layout describes where tree linkage and record fields live inside
// target structures.
//
// Offsets come from a build-time table (field name to byte offset) and are
// treated as static configuration: nothing here inspects target memory.
package layout

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Keys accepted by NewEntryDescriptor.
const (
	KeyParent = "parent"
	KeyLeft   = "left"
	KeyRight  = "right"
	KeyRecord = "record"
	KeyRoot   = "root"
)

var requiredEntryKeys = []string{KeyParent, KeyLeft, KeyRight, KeyRecord}

// EntryDescriptor locates the linkage fields of an intrusive tree node.
//
// Link offsets are relative to the node address, the address stored in the
// parent/left/right words. RecordOffset is added to a node address to reach
// the enclosing record and may be negative when the links point into the
// middle of the record. RootOffset locates the root slot inside the tree head.
type EntryDescriptor struct {
	ParentOffset int64
	LeftOffset   int64
	RightOffset  int64
	RecordOffset int64
	RootOffset   int64

	// ParentTagBits is the number of low bits of the parent word used for
	// color or flags, masked off before the word is followed.
	ParentTagBits uint
}

// NewEntryDescriptor builds a descriptor from a field name to offset mapping.
// The parent, left, right and record keys are required; root defaults to 0.
func NewEntryDescriptor(offsets map[string]int64) (EntryDescriptor, error) {
	var missing []string
	for _, k := range requiredEntryKeys {
		if _, ok := offsets[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return EntryDescriptor{}, &ConfigError{
			Field:  strings.Join(missing, ","),
			Reason: "missing required entry field",
		}
	}

	d := EntryDescriptor{
		ParentOffset: offsets[KeyParent],
		LeftOffset:   offsets[KeyLeft],
		RightOffset:  offsets[KeyRight],
		RecordOffset: offsets[KeyRecord],
		RootOffset:   offsets[KeyRoot],
	}
	if d.ParentOffset == d.LeftOffset || d.ParentOffset == d.RightOffset || d.LeftOffset == d.RightOffset {
		return EntryDescriptor{}, &ConfigError{
			Field:  "parent,left,right",
			Reason: fmt.Sprintf("linkage offsets overlap (parent=%d left=%d right=%d)", d.ParentOffset, d.LeftOffset, d.RightOffset),
		}
	}
	return d, nil
}

// WithParentTagBits returns a copy of d whose parent words carry n tag bits.
func (d EntryDescriptor) WithParentTagBits(n uint) (EntryDescriptor, error) {
	if n > 3 {
		return d, &ConfigError{Field: "parent_tag_bits", Reason: fmt.Sprintf("%d tag bits is more than pointer alignment allows", n)}
	}
	d.ParentTagBits = n
	return d, nil
}

// ParentMask returns the mask applied to a raw parent word
func (d EntryDescriptor) ParentMask() uint64 {
	return ^uint64(0) << d.ParentTagBits
}

// String lists the offsets for logs and error messages
func (d EntryDescriptor) String() string {
	return fmt.Sprintf("entry{parent=%d left=%d right=%d record=%d root=%d tagbits=%d}",
		d.ParentOffset, d.LeftOffset, d.RightOffset, d.RecordOffset, d.RootOffset, d.ParentTagBits)
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
