//go:build linux

package procmem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"unsafe"

	"github.com/willibrandon/rbscope/pkg/memory"
)

func addrOf(b []byte) memory.Address {
	return memory.Address(uintptr(unsafe.Pointer(&b[0])))
}

func TestReadSelf(t *testing.T) {
	p, err := Open(os.Getpid(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	want := []byte("rbscope reads its own heap")
	got, err := p.ReadMemory(context.Background(), addrOf(want), len(want))
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadMemory = %q, want %q", got, want)
	}
}

func TestReadSelfFallback(t *testing.T) {
	p, err := Open(os.Getpid(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	p.noVM = true

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	got, err := p.ReadMemory(context.Background(), addrOf(want), len(want))
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadMemory = %v, want %v", got, want)
	}
}

func TestReadUnmapped(t *testing.T) {
	p, err := Open(os.Getpid(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	for _, noVM := range []bool{false, true} {
		p.noVM = noVM
		_, err := p.ReadMemory(context.Background(), 0x10, 8)
		var ae *memory.AccessError
		if !errors.As(err, &ae) || !errors.Is(err, memory.ErrUnmapped) {
			t.Errorf("noVM=%v: expected unmapped AccessError, got %v", noVM, err)
		}
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(-1, nil); err == nil {
		t.Error("Open(-1): expected error")
	}
}
