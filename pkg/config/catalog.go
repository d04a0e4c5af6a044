package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/willibrandon/rbscope/pkg/inspect"
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/record"
)

// LoadOffsets parses the offsets header named by c.Offsets. No header gives
// an empty table, so only literal offsets resolve.
func (c *Config) LoadOffsets() (layout.SymbolTable, error) {
	if c.Offsets == "" {
		return layout.SymbolTable{}, nil
	}
	f, err := os.Open(c.Offsets)
	if err != nil {
		return nil, fmt.Errorf("offsets header: %w", err)
	}
	defer f.Close()
	syms, err := layout.ParseOffsetHeader(f)
	if err != nil {
		return nil, fmt.Errorf("offsets header %s: %w", c.Offsets, err)
	}
	return syms, nil
}

// Catalog resolves every configured tree against syms.
func (c *Config) Catalog(syms layout.SymbolTable) (inspect.Catalog, error) {
	cat := make(inspect.Catalog, len(c.Trees))
	for name, ts := range c.Trees {
		spec, err := buildTree(ts, syms, c.Target.PointerSize)
		if err != nil {
			return nil, fmt.Errorf("trees.%s: %w", name, err)
		}
		cat[name] = spec
	}
	return cat, nil
}

func buildTree(ts TreeSpec, syms layout.SymbolTable, pointerSize int) (inspect.TreeSpec, error) {
	kind, err := record.ParseKind(ts.Kind)
	if err != nil {
		return inspect.TreeSpec{}, err
	}

	offsets, err := syms.ResolveAll(ts.Entry)
	if err != nil {
		return inspect.TreeSpec{}, err
	}
	entry, err := layout.NewEntryDescriptor(offsets)
	if err != nil {
		return inspect.TreeSpec{}, err
	}
	if entry, err = entry.WithParentTagBits(ts.ParentTagBits); err != nil {
		return inspect.TreeSpec{}, err
	}

	fields := make(map[string]layout.Field, len(ts.Fields))
	for name, fs := range ts.Fields {
		off, err := syms.Resolve(fs.Offset)
		if err != nil {
			return inspect.TreeSpec{}, fmt.Errorf("field %s: %w", name, err)
		}
		size := fs.Size
		if size == 0 {
			size = record.DefaultSize(name, pointerSize)
		}
		fields[name] = layout.Field{Offset: off, Size: size}
	}
	rl := layout.NewRecordLayout(fields)
	if err := record.CheckLayout(kind, rl); err != nil {
		return inspect.TreeSpec{}, err
	}

	return inspect.TreeSpec{Kind: kind, EntryField: ts.EntryField, Entry: entry, Layout: rl}, nil
}

// Resolver returns a resolver over the configured symbols. Cast expressions
// work with or without them.
func (c *Config) Resolver() (inspect.StaticResolver, error) {
	syms := make(map[string]inspect.Symbol, len(c.Symbols))
	for _, s := range c.Symbols {
		addr, err := strconv.ParseUint(s.Addr, 0, 64)
		if err != nil {
			return inspect.StaticResolver{}, &layout.ConfigError{Field: "symbols." + s.Name, Reason: fmt.Sprintf("bad address %q", s.Addr)}
		}
		syms[s.Name] = inspect.Symbol{Addr: memory.Address(addr), Type: s.Type}
	}
	return inspect.StaticResolver{Symbols: syms}, nil
}
