// Package simtree lays out intrusive binary search trees inside a memory
// image, the way a kernel would keep its thread or process tables.
//
// Records are fixed-size slots carved out of one region. Each record embeds a
// tree entry at EntryOffset. In BSD style (the default) the links hold record
// addresses, like RB_ENTRY from sys/tree.h. In Linux style the links hold the
// address of the embedded entry and the parent word carries color bits, like
// struct rb_node.
package simtree

import (
	"context"
	"fmt"

	"github.com/willibrandon/rbscope/pkg/image"
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/rbtree"
)

// Defaults for Config.
const (
	DefaultBase        memory.Address = 0x10000000
	DefaultRecordSize                 = 128
	DefaultEntryOffset                = 16
	DefaultCapacity                   = 256
	// headRootOffset puts a lock word in front of the root slot
	headRootOffset = 8
)

// Config describes the simulated layout
type Config struct {
	Arch        image.Arch
	Base        memory.Address
	RecordSize  int
	EntryOffset int64
	// KeyOffset and KeySize locate the integer key inside each record.
	KeyOffset int64
	KeySize   int
	Capacity  int
	// Linux switches to entry-addressed links with a tagged parent word.
	Linux bool
	// ParentTagBits is only used with Linux; the low bit is set on black
	// nodes the way __rb_parent_color does.
	ParentTagBits uint
}

type node struct {
	key                 uint64
	left, right, parent memory.Address
}

// Tree is a simulated tree. It mirrors the links it writes so tests can
// compare the navigator against ground truth.
type Tree struct {
	cfg   Config
	img   *image.Image
	head  memory.Address
	entry layout.EntryDescriptor
	root  memory.Address
	nodes map[memory.Address]*node
	byKey map[uint64]memory.Address
	used  int
}

// New maps a head and a record pool in a fresh image.
func New(cfg Config) (*Tree, error) {
	return NewInImage(image.New(cfg.Arch), cfg)
}

// NewInImage maps a head and a record pool in img. Several trees may share
// an image as long as their Base ranges do not overlap.
func NewInImage(img *image.Image, cfg Config) (*Tree, error) {
	cfg.Arch = img.Arch()
	if cfg.Base == 0 {
		cfg.Base = DefaultBase
	}
	if cfg.RecordSize == 0 {
		cfg.RecordSize = DefaultRecordSize
	}
	if cfg.EntryOffset == 0 {
		cfg.EntryOffset = DefaultEntryOffset
	}
	if cfg.KeySize == 0 {
		cfg.KeySize = 8
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	ps := int64(cfg.Arch.PointerSize)
	if cfg.EntryOffset+4*ps > int64(cfg.RecordSize) {
		return nil, fmt.Errorf("simtree: entry at %d does not fit a %d byte record", cfg.EntryOffset, cfg.RecordSize)
	}

	offsets := map[string]int64{layout.KeyRoot: headRootOffset}
	if cfg.Linux {
		offsets[layout.KeyParent] = 0
		offsets[layout.KeyRight] = ps
		offsets[layout.KeyLeft] = 2 * ps
		offsets[layout.KeyRecord] = -cfg.EntryOffset
	} else {
		offsets[layout.KeyLeft] = cfg.EntryOffset
		offsets[layout.KeyRight] = cfg.EntryOffset + ps
		offsets[layout.KeyParent] = cfg.EntryOffset + 2*ps
		offsets[layout.KeyRecord] = 0
	}
	entry, err := layout.NewEntryDescriptor(offsets)
	if err != nil {
		return nil, err
	}
	if cfg.Linux {
		if entry, err = entry.WithParentTagBits(cfg.ParentTagBits); err != nil {
			return nil, err
		}
	}

	head := cfg.Base
	if err := img.Map(head, 64); err != nil {
		return nil, err
	}
	if err := img.Map(cfg.Base.Add(0x1000), cfg.RecordSize*cfg.Capacity); err != nil {
		return nil, err
	}

	return &Tree{
		cfg:   cfg,
		img:   img,
		head:  head,
		entry: entry,
		nodes: make(map[memory.Address]*node),
		byKey: make(map[uint64]memory.Address),
	}, nil
}

// Image returns the backing image
func (t *Tree) Image() *image.Image {
	return t.img
}

// Head returns the address of the tree head
func (t *Tree) Head() memory.Address {
	return t.head
}

// Entry returns the descriptor matching the simulated layout
func (t *Tree) Entry() layout.EntryDescriptor {
	return t.entry
}

// Handle returns a navigator handle for the tree
func (t *Tree) Handle() (rbtree.TreeHandle, error) {
	r, err := t.img.Reader()
	if err != nil {
		return rbtree.TreeHandle{}, err
	}
	return rbtree.TreeHandle{Head: t.head, Entry: t.entry, Mem: r}, nil
}

// Root returns the current root node
func (t *Tree) Root() memory.Address {
	return t.root
}

// Len returns the number of inserted nodes
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node address holding key
func (t *Tree) Node(key uint64) (memory.Address, bool) {
	a, ok := t.byKey[key]
	return a, ok
}

// RecordOf converts a node address to its record address
func (t *Tree) RecordOf(n memory.Address) memory.Address {
	return n.Add(t.entry.RecordOffset)
}

// Insert allocates a record for key and links it with ordinary binary search
// tree insertion. Duplicate keys are rejected.
func (t *Tree) Insert(key uint64) (memory.Address, error) {
	if _, dup := t.byKey[key]; dup {
		return memory.Null, fmt.Errorf("simtree: duplicate key %d", key)
	}
	if t.used >= t.cfg.Capacity {
		return memory.Null, fmt.Errorf("simtree: pool of %d records is full", t.cfg.Capacity)
	}
	rec := t.cfg.Base.Add(0x1000 + int64(t.used*t.cfg.RecordSize))
	t.used++
	if err := t.img.WriteUint(rec.Add(t.cfg.KeyOffset), t.cfg.KeySize, key); err != nil {
		return memory.Null, err
	}
	n := rec
	if t.cfg.Linux {
		n = rec.Add(t.cfg.EntryOffset)
	}
	nd := &node{key: key}
	t.nodes[n] = nd
	t.byKey[key] = n

	var parent memory.Address
	cur := t.root
	for !cur.IsNull() {
		parent = cur
		if key < t.nodes[cur].key {
			cur = t.nodes[cur].left
		} else {
			cur = t.nodes[cur].right
		}
	}
	nd.parent = parent
	switch {
	case parent.IsNull():
		t.root = n
	case key < t.nodes[parent].key:
		t.nodes[parent].left = n
	default:
		t.nodes[parent].right = n
	}

	if err := t.flush(n); err != nil {
		return memory.Null, err
	}
	if !parent.IsNull() {
		if err := t.flush(parent); err != nil {
			return memory.Null, err
		}
	}
	return n, t.img.WritePointer(t.head.Add(headRootOffset), t.root)
}

// InsertAll inserts keys in the given order.
func (t *Tree) InsertAll(keys ...uint64) error {
	for _, k := range keys {
		if _, err := t.Insert(k); err != nil {
			return err
		}
	}
	return nil
}

// flush writes the mirrored links of n into the image.
func (t *Tree) flush(n memory.Address) error {
	nd := t.nodes[n]
	if err := t.img.WritePointer(n.Add(t.entry.LeftOffset), nd.left); err != nil {
		return err
	}
	if err := t.img.WritePointer(n.Add(t.entry.RightOffset), nd.right); err != nil {
		return err
	}
	parent := uint64(nd.parent)
	if t.cfg.Linux && t.cfg.ParentTagBits > 0 {
		parent |= 1 // black
	}
	return t.img.WritePointer(n.Add(t.entry.ParentOffset), memory.Address(parent))
}

// Link names one of the three linkage words
type Link int

const (
	LinkParent Link = iota
	LinkLeft
	LinkRight
)

// Corrupt overwrites one linkage word of n in the image only, leaving the
// mirror untouched.
func (t *Tree) Corrupt(n memory.Address, which Link, v memory.Address) error {
	off := t.entry.ParentOffset
	switch which {
	case LinkLeft:
		off = t.entry.LeftOffset
	case LinkRight:
		off = t.entry.RightOffset
	}
	return t.img.WritePointer(n.Add(off), v)
}

// Key reads the key of the record at rec from the image.
func (t *Tree) Key(ctx context.Context, rec memory.Address) (uint64, error) {
	r, err := t.img.Reader()
	if err != nil {
		return 0, err
	}
	return r.Uint(ctx, rec.Add(t.cfg.KeyOffset), t.cfg.KeySize)
}

// InOrder returns the keys in ascending order from the mirror.
func (t *Tree) InOrder() []uint64 {
	var out []uint64
	var visit func(memory.Address)
	visit = func(n memory.Address) {
		if n.IsNull() {
			return
		}
		visit(t.nodes[n].left)
		out = append(out, t.nodes[n].key)
		visit(t.nodes[n].right)
	}
	visit(t.root)
	return out
}
