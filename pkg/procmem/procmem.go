// Package procmem reads the memory of a running process on the same host.
//
// Reads are never cached: the process keeps running between them, and a
// tree walk over it may observe a structure that changes under its feet.
package procmem

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/willibrandon/rbscope/pkg/memory"
)

var (
	// ErrUnsupported is returned by Open where live reads are not implemented.
	ErrUnsupported = errors.New("procmem: reading another process is not supported on this platform")
	// ErrExited is returned once the process is gone.
	ErrExited = errors.New("procmem: process has exited")
)

// Process is a memory.Accessor over a live process.
type Process struct {
	pid    int
	logger *slog.Logger

	mu   sync.Mutex
	mem  *os.File // /proc/<pid>/mem, opened on first fallback read
	noVM bool     // process_vm_readv refused, use mem only
}

// Open prepares to read the memory of pid. A nil logger discards.
func Open(pid int, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Process{pid: pid, logger: logger.With("pid", pid)}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Pid returns the process id
func (p *Process) Pid() int {
	return p.pid
}

// ReadMemory implements memory.Accessor.
func (p *Process) ReadMemory(ctx context.Context, addr memory.Address, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, &memory.AccessError{Addr: addr, Size: size, Err: errors.New("invalid read size")}
	}
	buf := make([]byte, size)
	p.mu.Lock()
	err := p.read(addr, buf)
	p.mu.Unlock()
	if err != nil {
		return nil, &memory.AccessError{Addr: addr, Size: size, Err: err}
	}
	return buf, nil
}

// Close releases the fallback file, if it was opened.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil
	}
	err := p.mem.Close()
	p.mem = nil
	return err
}
