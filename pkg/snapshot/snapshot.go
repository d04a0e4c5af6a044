// Package snapshot walks a tree in ascending order, one node per step.
//
// A Walker reads live memory as it goes and is single-use. Two walks over a
// target that is still running may disagree; nothing here tries to make the
// sequence consistent.
package snapshot

import (
	"context"
	"fmt"
	"iter"

	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/rbtree"
)

// Walker yields the nodes of one tree from min to max.
type Walker struct {
	nav    *rbtree.Navigator
	handle rbtree.TreeHandle

	root    memory.Address
	next    memory.Address
	started bool
	done    bool
	err     error

	count int
	seen  map[memory.Address]struct{}
}

// Build prepares a walk over the tree behind h. It reads the root slot only;
// an empty tree is not an error, check Empty.
func Build(ctx context.Context, nav *rbtree.Navigator, h rbtree.TreeHandle) (*Walker, error) {
	root, err := nav.Root(ctx, h)
	if err != nil {
		return nil, err
	}
	w := &Walker{
		nav:    nav,
		handle: h,
		root:   root,
		seen:   make(map[memory.Address]struct{}),
	}
	if root.IsNull() {
		w.done = true
	}
	return w, nil
}

// Empty reports whether the tree had no root when the walk was built
func (w *Walker) Empty() bool {
	return w.root.IsNull()
}

// Root returns the root read by Build
func (w *Walker) Root() memory.Address {
	return w.root
}

// Count returns how many nodes have been yielded so far
func (w *Walker) Count() int {
	return w.count
}

// Next returns the next node. ok is false once the walk is over, either at
// the end of the tree or after an error, which is then returned once and
// kept in Err.
func (w *Walker) Next(ctx context.Context) (node memory.Address, ok bool, err error) {
	if w.done {
		return memory.Null, false, nil
	}

	if !w.started {
		w.started = true
		w.next, err = w.nav.Min(ctx, w.handle, w.root)
	} else {
		w.next, err = w.nav.Successor(ctx, w.handle, w.next)
	}
	if err != nil {
		return memory.Null, false, w.fail(err)
	}
	if w.next.IsNull() {
		w.done = true
		return memory.Null, false, nil
	}

	if _, dup := w.seen[w.next]; dup {
		return memory.Null, false, w.fail(&rbtree.CorruptStructureError{
			Op: "snapshot", Addr: w.next, Steps: w.count, Reason: "node yielded twice",
		})
	}
	if w.count >= w.nav.MaxSteps() {
		return memory.Null, false, w.fail(&rbtree.CorruptStructureError{
			Op: "snapshot", Addr: w.next, Steps: w.count,
			Reason: fmt.Sprintf("more than %d nodes", w.nav.MaxSteps()),
		})
	}
	w.seen[w.next] = struct{}{}
	w.count++
	return w.next, true, nil
}

func (w *Walker) fail(err error) error {
	w.done = true
	w.err = err
	return err
}

// Err returns the error that ended the walk, if any
func (w *Walker) Err() error {
	return w.err
}

// All ranges over the remaining nodes. An error is yielded as the last pair.
func (w *Walker) All(ctx context.Context) iter.Seq2[memory.Address, error] {
	return func(yield func(memory.Address, error) bool) {
		for {
			n, ok, err := w.Next(ctx)
			if err != nil {
				yield(memory.Null, err)
				return
			}
			if !ok || !yield(n, nil) {
				return
			}
		}
	}
}

// Collect reads up to limit nodes (all of them when limit is 0). truncated
// is true when nodes were left unread.
func Collect(ctx context.Context, w *Walker, limit int) (nodes []memory.Address, truncated bool, err error) {
	for n, err := range w.All(ctx) {
		if err != nil {
			return nodes, false, err
		}
		if limit > 0 && len(nodes) == limit {
			return nodes, true, nil
		}
		nodes = append(nodes, n)
	}
	return nodes, false, nil
}
