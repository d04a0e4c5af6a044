// Package inspect turns a textual dump request into a formatted walk of a
// tree in target memory.
//
// A request names the expression that evaluates to the tree head, the tree
// type the caller believes it points to, and the entry field linking records
// into the tree. The declared type is checked before any tree memory is read.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/rbtree"
	"github.com/willibrandon/rbscope/pkg/record"
	"github.com/willibrandon/rbscope/pkg/snapshot"
)

// Symbol is an evaluated expression: the address it points to and its
// declared type as the target's debug info spells it.
type Symbol struct {
	Addr memory.Address
	Type string
}

// Resolver evaluates root expressions against the target.
type Resolver interface {
	Resolve(ctx context.Context, expr string) (Symbol, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, expr string) (Symbol, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, expr string) (Symbol, error) {
	return f(ctx, expr)
}

// Request is one rbtree_dump invocation.
type Request struct {
	RootExpr   string
	TypeName   string
	EntryField string
}

// ParseRequest splits "<root-expr> <type> <entry-field>".
func ParseRequest(args []string) (Request, error) {
	if len(args) != 3 {
		return Request{}, fmt.Errorf("usage: rbtree_dump <root-expr> <type> <entry-field>")
	}
	return Request{RootExpr: args[0], TypeName: args[1], EntryField: args[2]}, nil
}

func (r Request) String() string {
	return r.RootExpr + " " + r.TypeName + " " + r.EntryField
}

// Options tune an Inspector. Zero values are usable.
type Options struct {
	Navigator *rbtree.Navigator
	// Limit caps the records collected per request; zero means no cap.
	Limit  int
	Logger *slog.Logger
}

// Inspector runs dump requests against one target.
type Inspector struct {
	catalog  Catalog
	resolver Resolver
	mem      *memory.Reader
	nav      *rbtree.Navigator
	limit    int
	logger   *slog.Logger
}

// New creates an Inspector reading through mem and resolving expressions
// through res.
func New(cat Catalog, res Resolver, mem *memory.Reader, opts Options) *Inspector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	nav := opts.Navigator
	if nav == nil {
		nav = rbtree.New(rbtree.Options{Logger: logger})
	}
	return &Inspector{
		catalog:  cat,
		resolver: res,
		mem:      mem,
		nav:      nav,
		limit:    opts.Limit,
		logger:   logger,
	}
}

// Catalog returns the tree types this Inspector knows
func (in *Inspector) Catalog() Catalog {
	return in.catalog
}

// Navigator returns the navigator used for walks
func (in *Inspector) Navigator() *rbtree.Navigator {
	return in.nav
}

// Result is the outcome of one request. Empty is set, with no records, when
// the tree has no root.
type Result struct {
	Request   Request
	Head      memory.Address
	Spec      TreeSpec
	Empty     bool
	Truncated bool
	Records   []record.Record
}

// Lines formats every record, one line each.
func (r *Result) Lines() ([]string, error) {
	lines := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		line, err := record.Format(rec)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// CheckType reports whether declared names a pointer to typeName, spelled
// either "struct T *" or "T *".
func CheckType(declared, typeName string) error {
	declared = strings.Join(strings.Fields(declared), " ")
	if declared == "struct "+typeName+" *" || declared == typeName+" *" {
		return nil
	}
	return &record.TypeMismatchError{Want: "(" + typeName + " *)", Got: declared}
}

// Handle resolves and validates req and returns the tree handle it names,
// without walking the tree.
func (in *Inspector) Handle(ctx context.Context, req Request) (rbtree.TreeHandle, TreeSpec, error) {
	spec, err := in.catalog.Lookup(req.TypeName)
	if err != nil {
		return rbtree.TreeHandle{}, TreeSpec{}, err
	}
	if spec.EntryField != "" && req.EntryField != spec.EntryField {
		return rbtree.TreeHandle{}, TreeSpec{}, &layout.ConfigError{
			Field:  req.EntryField,
			Reason: fmt.Sprintf("%s links its records through entry field %q", req.TypeName, spec.EntryField),
		}
	}
	sym, err := in.resolver.Resolve(ctx, req.RootExpr)
	if err != nil {
		return rbtree.TreeHandle{}, TreeSpec{}, fmt.Errorf("resolve %s: %w", req.RootExpr, err)
	}
	if err := CheckType(sym.Type, req.TypeName); err != nil {
		return rbtree.TreeHandle{}, TreeSpec{}, err
	}
	return rbtree.TreeHandle{Head: sym.Addr, Entry: spec.Entry, Mem: in.mem}, spec, nil
}

// Run executes req: walk the tree in ascending order and decode every record.
func (in *Inspector) Run(ctx context.Context, req Request) (*Result, error) {
	h, spec, err := in.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Request: req, Head: h.Head, Spec: spec}

	w, err := snapshot.Build(ctx, in.nav, h)
	if err != nil {
		return nil, err
	}
	if w.Empty() {
		res.Empty = true
		in.logger.Debug("tree is empty", "request", req.String(), "head", h.Head)
		return res, nil
	}

	nodes, truncated, err := snapshot.Collect(ctx, w, in.limit)
	if err != nil {
		return nil, err
	}
	res.Truncated = truncated
	res.Records = make([]record.Record, 0, len(nodes))
	for _, n := range nodes {
		rec, err := record.Decode(ctx, in.mem, spec.Kind, spec.Layout, in.nav.Record(h, n))
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, rec)
	}
	in.logger.Debug("tree walked", "request", req.String(), "records", len(res.Records), "truncated", truncated)
	return res, nil
}

// Decode reads the record embedding node, for callers stepping a Cursor.
func (in *Inspector) Decode(ctx context.Context, h rbtree.TreeHandle, spec TreeSpec, node memory.Address) (record.Record, error) {
	if node.IsNull() {
		return record.Record{}, errors.New("inspect: null node")
	}
	return record.Decode(ctx, in.mem, spec.Kind, spec.Layout, in.nav.Record(h, node))
}
