// Package image holds captured target memory: a sparse set of regions that
// serves reads like a core dump would.
//
// An Image can be built in memory, which is how the tree simulator and the
// tests lay out records, or loaded from an image file. Loaded regions stay
// compressed until first touched and are then kept in a bounded LRU. A
// captured image never changes, so caching it is safe.
package image

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/rbscope/pkg/memory"
)

// DefaultCacheRegions is how many decompressed regions Load keeps around.
const DefaultCacheRegions = 64

// Arch records the target data model an image was captured from.
type Arch struct {
	PointerSize int  `json:"pointer_size"`
	BigEndian   bool `json:"big_endian,omitempty"`
}

// ByteOrder returns the byte order of the arch
func (a Arch) ByteOrder() binary.ByteOrder {
	if a.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DefaultArch is a little-endian 64-bit target.
var DefaultArch = Arch{PointerSize: 8}

type region struct {
	base memory.Address
	size int

	raw []byte // nil while still packed

	packed      []byte
	compression CompressionType
	digest      string
}

func (r *region) end() uint64 {
	return uint64(r.base) + uint64(r.size)
}

// Image is a sparse memory image.
type Image struct {
	mu      sync.Mutex
	arch    Arch
	regions []*region // sorted by base, non-overlapping
	cache   *lru.Cache
}

// New creates an empty in-memory image for the given arch.
func New(arch Arch) *Image {
	if arch.PointerSize == 0 {
		arch.PointerSize = DefaultArch.PointerSize
	}
	return &Image{arch: arch}
}

// Arch returns the arch the image was captured from
func (m *Image) Arch() Arch {
	return m.arch
}

// Reader returns a memory.Reader over the image using its arch.
func (m *Image) Reader() (*memory.Reader, error) {
	return memory.NewReader(m, m.arch.PointerSize, m.arch.ByteOrder())
}

// Map adds a zero-filled region of size bytes at base.
func (m *Image) Map(base memory.Address, size int) error {
	if size <= 0 {
		return fmt.Errorf("image: invalid region size %d", size)
	}
	if uint64(base)+uint64(size) < uint64(base) {
		return fmt.Errorf("image: region at %s wraps the address space", base)
	}
	return m.insert(&region{base: base, size: size, raw: make([]byte, size)})
}

func (m *Image) insert(r *region) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].base >= r.base })
	if i > 0 && m.regions[i-1].end() > uint64(r.base) {
		return fmt.Errorf("image: region %s+%d overlaps region at %s", r.base, r.size, m.regions[i-1].base)
	}
	if i < len(m.regions) && r.end() > uint64(m.regions[i].base) {
		return fmt.Errorf("image: region %s+%d overlaps region at %s", r.base, r.size, m.regions[i].base)
	}
	m.regions = append(m.regions, nil)
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = r
	return nil
}

// Write copies b into the image at addr. The range must be mapped.
func (m *Image) Write(addr memory.Address, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.span(addr, len(b), func(r *region, off, n, done int) error {
		raw, err := m.unpackLocked(r)
		if err != nil {
			return err
		}
		// a written region is no longer backed by its packed form
		r.raw = raw
		r.packed = nil
		r.digest = ""
		copy(raw[off:off+n], b[done:done+n])
		return nil
	})
}

// WriteUint stores v as a size-byte integer in the image's byte order.
func (m *Image) WriteUint(addr memory.Address, size int, v uint64) error {
	b := make([]byte, size)
	order := m.arch.ByteOrder()
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	default:
		return fmt.Errorf("image: unsupported integer size %d", size)
	}
	return m.Write(addr, b)
}

// WritePointer stores a target pointer at addr.
func (m *Image) WritePointer(addr, v memory.Address) error {
	return m.WriteUint(addr, m.arch.PointerSize, uint64(v))
}

// ReadMemory implements memory.Accessor. A read may cross adjacent regions
// but not a hole.
func (m *Image) ReadMemory(ctx context.Context, addr memory.Address, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, &memory.AccessError{Addr: addr, Size: size, Err: fmt.Errorf("invalid read size")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, size)
	err := m.span(addr, size, func(r *region, off, n, done int) error {
		raw, err := m.unpackLocked(r)
		if err != nil {
			return err
		}
		copy(out[done:done+n], raw[off:off+n])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// span calls fn for each region piece covering [addr, addr+size).
func (m *Image) span(addr memory.Address, size int, fn func(r *region, off, n, done int) error) error {
	cur := uint64(addr)
	done := 0
	for done < size {
		r := m.find(cur)
		if r == nil {
			return &memory.AccessError{Addr: addr, Size: size, Err: fmt.Errorf("%w at %s", memory.ErrUnmapped, memory.Address(cur))}
		}
		off := int(cur - uint64(r.base))
		n := r.size - off
		if n > size-done {
			n = size - done
		}
		if err := fn(r, off, n, done); err != nil {
			return &memory.AccessError{Addr: addr, Size: size, Err: err}
		}
		done += n
		cur += uint64(n)
	}
	return nil
}

func (m *Image) find(a uint64) *region {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].end() > a })
	if i < len(m.regions) && uint64(m.regions[i].base) <= a {
		return m.regions[i]
	}
	return nil
}

// unpackLocked returns the raw bytes of r, decompressing through the cache.
func (m *Image) unpackLocked(r *region) ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	if m.cache != nil {
		if v, ok := m.cache.Get(r.base); ok {
			return v.([]byte), nil
		}
	}
	raw, err := decompress(r.packed, r.compression, r.size)
	if err != nil {
		return nil, fmt.Errorf("%w: region %s: %v", ErrCorruptImage, r.base, err)
	}
	if r.digest != "" && digestOf(raw) != r.digest {
		return nil, fmt.Errorf("%w: region %s: checksum mismatch", ErrCorruptImage, r.base)
	}
	if m.cache != nil {
		m.cache.Add(r.base, raw)
	} else {
		r.raw = raw
	}
	return raw, nil
}

// RegionInfo describes one mapped region
type RegionInfo struct {
	Base memory.Address
	Size int
}

// Regions lists the mapped regions in address order
func (m *Image) Regions() []RegionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RegionInfo, len(m.regions))
	for i, r := range m.regions {
		out[i] = RegionInfo{Base: r.base, Size: r.size}
	}
	return out
}
