// Package memory defines how rbscope reads the memory of an inspected target.
//
// Every read goes through an Accessor. Addresses are opaque handles: the only
// arithmetic performed on them is Address.Add, which is applied right before a
// read and never interpreted elsewhere.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Address is an opaque handle into target memory. Zero means "no node".
type Address uint64

// Null is the zero address.
const Null Address = 0

// IsNull reports whether a is the zero address
func (a Address) IsNull() bool {
	return a == Null
}

// Add returns a displaced by off bytes. Wraparound is the caller's problem,
// the accessor will reject the resulting address.
func (a Address) Add(off int64) Address {
	return Address(uint64(a) + uint64(off))
}

// String formats the address the way the tree dump prints it
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Accessor reads raw bytes from the inspected target.
//
// Implementations may block (a remote debugger, an attached process) and must
// not cache values read from a live target.
type Accessor interface {
	// ReadMemory returns exactly size bytes starting at addr, or an
	// *AccessError when any byte of the range is unreadable.
	ReadMemory(ctx context.Context, addr Address, size int) ([]byte, error)
}

// AccessorFunc adapts a plain function to the Accessor interface
type AccessorFunc func(ctx context.Context, addr Address, size int) ([]byte, error)

// ReadMemory calls f
func (f AccessorFunc) ReadMemory(ctx context.Context, addr Address, size int) ([]byte, error) {
	return f(ctx, addr, size)
}

// Reader decodes integers and pointers read through an Accessor.
type Reader struct {
	acc         Accessor
	pointerSize int
	order       binary.ByteOrder
}

// NewReader returns a Reader for a target with the given pointer width (4 or
// 8 bytes) and byte order. A nil order means little endian.
func NewReader(acc Accessor, pointerSize int, order binary.ByteOrder) (*Reader, error) {
	if acc == nil {
		return nil, fmt.Errorf("memory: nil accessor")
	}
	if pointerSize != 4 && pointerSize != 8 {
		return nil, fmt.Errorf("memory: unsupported pointer size %d", pointerSize)
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return &Reader{acc: acc, pointerSize: pointerSize, order: order}, nil
}

// PointerSize returns the target pointer width in bytes
func (r *Reader) PointerSize() int {
	return r.pointerSize
}

// ByteOrder returns the target byte order
func (r *Reader) ByteOrder() binary.ByteOrder {
	return r.order
}

// Bytes reads size raw bytes at addr.
func (r *Reader) Bytes(ctx context.Context, addr Address, size int) ([]byte, error) {
	if size <= 0 {
		return nil, &AccessError{Addr: addr, Size: size, Err: errBadSize}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := r.acc.ReadMemory(ctx, addr, size)
	if err != nil {
		return nil, wrapAccess(addr, size, err)
	}
	if len(b) < size {
		return nil, &AccessError{Addr: addr, Size: size, Err: fmt.Errorf("short read: got %d bytes", len(b))}
	}
	return b[:size], nil
}

// Uint reads an unsigned integer of size 1, 2, 4 or 8 bytes at addr.
func (r *Reader) Uint(ctx context.Context, addr Address, size int) (uint64, error) {
	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, &AccessError{Addr: addr, Size: size, Err: errBadSize}
	}
	b, err := r.Bytes(ctx, addr, size)
	if err != nil {
		return 0, err
	}
	return r.decode(b), nil
}

// Int reads a sign-extended integer of size 1, 2, 4 or 8 bytes at addr.
func (r *Reader) Int(ctx context.Context, addr Address, size int) (int64, error) {
	u, err := r.Uint(ctx, addr, size)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*size)
	return int64(u<<shift) >> shift, nil
}

// Pointer reads a target pointer at addr.
func (r *Reader) Pointer(ctx context.Context, addr Address) (Address, error) {
	u, err := r.Uint(ctx, addr, r.pointerSize)
	if err != nil {
		return Null, err
	}
	return Address(u), nil
}

func (r *Reader) decode(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(r.order.Uint16(b))
	case 4:
		return uint64(r.order.Uint32(b))
	default:
		return r.order.Uint64(b)
	}
}

// MarshalText renders the address in hex for JSON and YAML output
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
