package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// flat serves reads out of a single buffer mapped at base.
func flat(base Address, buf []byte) Accessor {
	return AccessorFunc(func(ctx context.Context, addr Address, size int) ([]byte, error) {
		if addr < base || uint64(addr-base)+uint64(size) > uint64(len(buf)) {
			return nil, ErrUnmapped
		}
		off := int(addr - base)
		return append([]byte(nil), buf[off:off+size]...), nil
	})
}

func TestAddressAdd(t *testing.T) {
	a := Address(0x1000)
	if got := a.Add(0x20); got != 0x1020 {
		t.Errorf("Add(0x20) = %s, want 0x1020", got)
	}
	if got := a.Add(-0x10); got != 0xff0 {
		t.Errorf("Add(-0x10) = %s, want 0xff0", got)
	}
	if !Null.IsNull() || a.IsNull() {
		t.Errorf("IsNull mismatch")
	}
}

func TestReaderIntegers(t *testing.T) {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], 0xdeadbeefcafe)
	binary.LittleEndian.PutUint32(buf[8:], 0xffffffff)
	binary.LittleEndian.PutUint16(buf[12:], 7)

	r, err := NewReader(flat(0x4000, buf), 8, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	ctx := context.Background()

	p, err := r.Pointer(ctx, 0x4000)
	if err != nil {
		t.Fatalf("Pointer: %v", err)
	}
	if p != 0xdeadbeefcafe {
		t.Errorf("Pointer = %s", p)
	}

	i, err := r.Int(ctx, 0x4008, 4)
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	if i != -1 {
		t.Errorf("Int = %d, want -1", i)
	}

	u, err := r.Uint(ctx, 0x400c, 2)
	if err != nil {
		t.Fatalf("Uint: %v", err)
	}
	if u != 7 {
		t.Errorf("Uint = %d, want 7", u)
	}
}

func TestReaderBigEndian32(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x12, 0x34}
	r, err := NewReader(flat(0x10, buf), 4, binary.BigEndian)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	p, err := r.Pointer(context.Background(), 0x10)
	if err != nil {
		t.Fatalf("Pointer: %v", err)
	}
	if p != 0x1234 {
		t.Errorf("Pointer = %s, want 0x1234", p)
	}
}

func TestReaderAccessError(t *testing.T) {
	r, _ := NewReader(flat(0x4000, make([]byte, 8)), 8, nil)

	_, err := r.Pointer(context.Background(), 0x9000)
	var ae *AccessError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AccessError, got %v", err)
	}
	if ae.Addr != 0x9000 || ae.Size != 8 {
		t.Errorf("unexpected error fields: %+v", ae)
	}
	if !errors.Is(err, ErrUnmapped) {
		t.Errorf("expected ErrUnmapped in chain, got %v", err)
	}

	if _, err := r.Bytes(context.Background(), 0x4000, 0); !errors.As(err, &ae) {
		t.Errorf("zero-size read should fail with AccessError, got %v", err)
	}
	if _, err := r.Uint(context.Background(), 0x4000, 3); !errors.As(err, &ae) {
		t.Errorf("3-byte integer read should fail with AccessError, got %v", err)
	}
}

func TestNewReaderValidation(t *testing.T) {
	if _, err := NewReader(nil, 8, nil); err == nil {
		t.Error("expected error for nil accessor")
	}
	if _, err := NewReader(flat(0, nil), 2, nil); err == nil {
		t.Error("expected error for 2-byte pointers")
	}
}

func TestReaderCancelled(t *testing.T) {
	r, _ := NewReader(flat(0, make([]byte, 8)), 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Pointer(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
