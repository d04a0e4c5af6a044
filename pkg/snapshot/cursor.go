package snapshot

import (
	"context"
	"errors"

	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/rbtree"
)

var (
	// ErrNoPosition is returned by Next and Prev before First or Last.
	ErrNoPosition = errors.New("cursor is not positioned")
	// ErrAtEnd is returned when stepping past the last or first node.
	ErrAtEnd = errors.New("no more nodes in that direction")
)

// Cursor steps through a tree in both directions. It remembers only the
// current node address; every step re-reads the links.
type Cursor struct {
	nav    *rbtree.Navigator
	handle rbtree.TreeHandle
	cur    memory.Address
}

// NewCursor creates an unpositioned cursor
func NewCursor(nav *rbtree.Navigator, h rbtree.TreeHandle) *Cursor {
	return &Cursor{nav: nav, handle: h}
}

// Handle returns the tree the cursor walks
func (c *Cursor) Handle() rbtree.TreeHandle {
	return c.handle
}

// Current returns the node under the cursor, null when unpositioned
func (c *Cursor) Current() memory.Address {
	return c.cur
}

// First moves to the smallest node. On an empty tree it returns null and
// leaves the cursor unpositioned.
func (c *Cursor) First(ctx context.Context) (memory.Address, error) {
	return c.edge(ctx, c.nav.Min)
}

// Last moves to the largest node.
func (c *Cursor) Last(ctx context.Context) (memory.Address, error) {
	return c.edge(ctx, c.nav.Max)
}

func (c *Cursor) edge(ctx context.Context, pick func(context.Context, rbtree.TreeHandle, memory.Address) (memory.Address, error)) (memory.Address, error) {
	root, err := c.nav.Root(ctx, c.handle)
	if err != nil {
		return memory.Null, err
	}
	n, err := pick(ctx, c.handle, root)
	if err != nil {
		return memory.Null, err
	}
	c.cur = n
	return n, nil
}

// Next moves to the successor. At the last node it returns ErrAtEnd and
// stays put.
func (c *Cursor) Next(ctx context.Context) (memory.Address, error) {
	return c.move(ctx, c.nav.Successor)
}

// Prev moves to the predecessor. At the first node it returns ErrAtEnd and
// stays put.
func (c *Cursor) Prev(ctx context.Context) (memory.Address, error) {
	return c.move(ctx, c.nav.Predecessor)
}

func (c *Cursor) move(ctx context.Context, step func(context.Context, rbtree.TreeHandle, memory.Address) (memory.Address, error)) (memory.Address, error) {
	if c.cur.IsNull() {
		return memory.Null, ErrNoPosition
	}
	n, err := step(ctx, c.handle, c.cur)
	if err != nil {
		return memory.Null, err
	}
	if n.IsNull() {
		return c.cur, ErrAtEnd
	}
	c.cur = n
	return n, nil
}
