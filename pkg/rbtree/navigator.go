// Package rbtree navigates intrusive, parent-linked binary search trees that
// live in target memory.
//
// The navigator only trusts structural links. It never compares keys, never
// checks colors and never caches a node: every step re-reads the target
// through the handle's memory.Reader. Each walk is bounded by a step ceiling
// and a per-call visited set, so corrupted or cyclic linkage produces a
// *CorruptStructureError instead of a hang.
package rbtree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
)

// DefaultMaxSteps bounds a single walk when Options.MaxSteps is zero.
const DefaultMaxSteps = 1 << 20

// TreeHandle identifies one tree in target memory. It is created per request
// and holds no node state.
type TreeHandle struct {
	// Head is the address of the tree head. A null head is an empty tree.
	Head  memory.Address
	Entry layout.EntryDescriptor
	Mem   *memory.Reader
}

// Options configures a Navigator
type Options struct {
	// MaxSteps bounds how many nodes one walk may visit.
	MaxSteps int
	// Logger receives per-step debug records. Nil discards them.
	Logger *slog.Logger
}

// Navigator computes root, min, max, successor and predecessor of tree nodes.
// It holds only its options and may be shared.
type Navigator struct {
	maxSteps int
	log      *slog.Logger
}

// New creates a Navigator
func New(opts Options) *Navigator {
	n := &Navigator{maxSteps: opts.MaxSteps, log: opts.Logger}
	if n.maxSteps <= 0 {
		n.maxSteps = DefaultMaxSteps
	}
	if n.log == nil {
		n.log = slog.New(slog.DiscardHandler)
	}
	return n
}

// MaxSteps returns the per-walk step ceiling
func (n *Navigator) MaxSteps() int {
	return n.maxSteps
}

// Root returns the root node of the tree, or null for an empty tree.
func (n *Navigator) Root(ctx context.Context, h TreeHandle) (memory.Address, error) {
	if err := checkHandle(h); err != nil {
		return memory.Null, err
	}
	if h.Head.IsNull() {
		return memory.Null, nil
	}
	root, err := h.Mem.Pointer(ctx, h.Head.Add(h.Entry.RootOffset))
	if err != nil {
		return memory.Null, fmt.Errorf("read root of %s: %w", h.Head, err)
	}
	n.log.Debug("rbtree root", "head", h.Head, "root", root)
	return root, nil
}

// Left returns the left child of node
func (n *Navigator) Left(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	return n.link(ctx, h, node, h.Entry.LeftOffset, "left", 0)
}

// Right returns the right child of node
func (n *Navigator) Right(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	return n.link(ctx, h, node, h.Entry.RightOffset, "right", 0)
}

// Parent returns the parent of node, with any tag bits masked off. It is null
// exactly for the root.
func (n *Navigator) Parent(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	return n.link(ctx, h, node, h.Entry.ParentOffset, "parent", h.Entry.ParentTagBits)
}

// Record returns the address of the record that embeds node.
func (n *Navigator) Record(h TreeHandle, node memory.Address) memory.Address {
	if node.IsNull() {
		return memory.Null
	}
	return node.Add(h.Entry.RecordOffset)
}

func (n *Navigator) link(ctx context.Context, h TreeHandle, node memory.Address, off int64, name string, tagBits uint) (memory.Address, error) {
	if err := checkHandle(h); err != nil {
		return memory.Null, err
	}
	if node.IsNull() {
		return memory.Null, fmt.Errorf("rbtree: %s of null node", name)
	}
	v, err := h.Mem.Pointer(ctx, node.Add(off))
	if err != nil {
		return memory.Null, fmt.Errorf("read %s link of %s: %w", name, node, err)
	}
	if tagBits > 0 {
		v = memory.Address(uint64(v) & h.Entry.ParentMask())
	}
	return v, nil
}

// Min returns the leftmost node of the subtree rooted at node.
func (n *Navigator) Min(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	w := n.newWalk("min")
	return n.descend(ctx, h, w, node, n.Left)
}

// Max returns the rightmost node of the subtree rooted at node.
func (n *Navigator) Max(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	w := n.newWalk("max")
	return n.descend(ctx, h, w, node, n.Right)
}

// Successor returns the next node in ascending order, or null after the last.
func (n *Navigator) Successor(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	return n.step(ctx, h, n.newWalk("successor"), node, n.Right, n.Left)
}

// Predecessor returns the previous node in ascending order, or null before
// the first.
func (n *Navigator) Predecessor(ctx context.Context, h TreeHandle, node memory.Address) (memory.Address, error) {
	return n.step(ctx, h, n.newWalk("predecessor"), node, n.Left, n.Right)
}

type linkFunc func(context.Context, TreeHandle, memory.Address) (memory.Address, error)

// descend follows next from node until it reaches a node without that child.
func (n *Navigator) descend(ctx context.Context, h TreeHandle, w *walk, node memory.Address, next linkFunc) (memory.Address, error) {
	if node.IsNull() {
		return memory.Null, nil
	}
	cur := node
	for {
		if err := w.visit(cur); err != nil {
			return memory.Null, err
		}
		child, err := next(ctx, h, cur)
		if err != nil {
			return memory.Null, err
		}
		if child.IsNull() {
			n.log.Debug("rbtree walk done", "op", w.op, "from", node, "result", cur, "steps", w.steps)
			return cur, nil
		}
		cur = child
	}
}

// step implements successor (toward=Right, back=Left) and its mirror.
func (n *Navigator) step(ctx context.Context, h TreeHandle, w *walk, node memory.Address, toward, back linkFunc) (memory.Address, error) {
	if node.IsNull() {
		return memory.Null, nil
	}
	if err := w.visit(node); err != nil {
		return memory.Null, err
	}

	child, err := toward(ctx, h, node)
	if err != nil {
		return memory.Null, err
	}
	if !child.IsNull() {
		// descend along back from child; node is already in the visited set
		cur := child
		for {
			if err := w.visit(cur); err != nil {
				return memory.Null, err
			}
			next, err := back(ctx, h, cur)
			if err != nil {
				return memory.Null, err
			}
			if next.IsNull() {
				n.log.Debug("rbtree walk done", "op", w.op, "from", node, "result", cur, "steps", w.steps)
				return cur, nil
			}
			cur = next
		}
	}

	cur := node
	for {
		parent, err := n.Parent(ctx, h, cur)
		if err != nil {
			return memory.Null, err
		}
		if parent.IsNull() {
			n.log.Debug("rbtree walk reached root", "op", w.op, "from", node, "steps", w.steps)
			return memory.Null, nil
		}
		if err := w.visit(parent); err != nil {
			return memory.Null, err
		}
		sibling, err := toward(ctx, h, parent)
		if err != nil {
			return memory.Null, err
		}
		if sibling != cur {
			n.log.Debug("rbtree walk done", "op", w.op, "from", node, "result", parent, "steps", w.steps)
			return parent, nil
		}
		cur = parent
	}
}

func (n *Navigator) newWalk(op string) *walk {
	return &walk{op: op, max: n.maxSteps, seen: make(map[memory.Address]struct{})}
}

// walk tracks the nodes visited by one navigator call.
type walk struct {
	op    string
	max   int
	steps int
	seen  map[memory.Address]struct{}
}

func (w *walk) visit(a memory.Address) error {
	if _, dup := w.seen[a]; dup {
		return &CorruptStructureError{Op: w.op, Addr: a, Steps: w.steps, Reason: "node visited twice"}
	}
	w.steps++
	if w.steps > w.max {
		return &CorruptStructureError{Op: w.op, Addr: a, Steps: w.steps, Reason: fmt.Sprintf("step bound %d exceeded", w.max)}
	}
	w.seen[a] = struct{}{}
	return nil
}

func checkHandle(h TreeHandle) error {
	if h.Mem == nil {
		return fmt.Errorf("rbtree: tree handle has no memory reader")
	}
	return nil
}
