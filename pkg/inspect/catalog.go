package inspect

import (
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/record"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TreeSpec describes one kind of tree: the record it holds, the name of the
// entry field embedded in that record, and where the links and fields sit.
type TreeSpec struct {
	Kind       record.Kind
	EntryField string
	Entry      layout.EntryDescriptor
	Layout     layout.RecordLayout
}

// Catalog maps a declared tree head type name (e.g. _thrdb_tree) to its spec.
type Catalog map[string]TreeSpec

// Lookup returns the TreeSpec registered for typeName
func (c Catalog) Lookup(typeName string) (TreeSpec, error) {
	spec, ok := c[typeName]
	if !ok {
		return TreeSpec{}, &layout.ConfigError{Field: typeName, Reason: "no tree type registered under this name"}
	}
	return spec, nil
}

// Names returns the registered type names in sorted order
func (c Catalog) Names() []string {
	names := maps.Keys(c)
	slices.Sort(names)
	return names
}
