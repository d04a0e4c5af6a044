//go:build linux

package procmem

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/willibrandon/rbscope/pkg/memory"
	"golang.org/x/sys/unix"
)

func (p *Process) open() error {
	if p.pid <= 0 {
		return fmt.Errorf("procmem: invalid pid %d", p.pid)
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", p.pid)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("procmem: no process %d", p.pid)
		}
		return err
	}
	return nil
}

// read fills buf from addr. It tries process_vm_readv first and drops to
// pread on /proc/<pid>/mem when the kernel refuses the syscall.
func (p *Process) read(addr memory.Address, buf []byte) error {
	if !p.noVM {
		n, err := p.readv(addr, buf)
		switch {
		case err == nil && n == len(buf):
			return nil
		case err == nil:
			return fmt.Errorf("%w: %d of %d bytes readable", memory.ErrUnmapped, n, len(buf))
		case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EPERM):
			p.logger.Debug("process_vm_readv unavailable, using /proc mem", "err", err)
			p.noVM = true
		default:
			return mapErrno(err)
		}
	}
	return p.pread(addr, buf)
}

func (p *Process) readv(addr memory.Address, buf []byte) (int, error) {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	return unix.ProcessVMReadv(p.pid, local, remote, 0)
}

func (p *Process) pread(addr memory.Address, buf []byte) error {
	if uint64(addr) > math.MaxInt64 {
		return memory.ErrUnmapped
	}
	if p.mem == nil {
		f, err := os.Open(fmt.Sprintf("/proc/%d/mem", p.pid))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return ErrExited
			}
			return err
		}
		p.mem = f
	}
	for done := 0; done < len(buf); {
		n, err := unix.Pread(int(p.mem.Fd()), buf[done:], int64(addr)+int64(done))
		if err != nil {
			return mapErrno(err)
		}
		if n == 0 {
			if done == 0 {
				return memory.ErrUnmapped
			}
			return fmt.Errorf("%w: %d of %d bytes readable", memory.ErrUnmapped, done, len(buf))
		}
		done += n
	}
	return nil
}

func mapErrno(err error) error {
	switch {
	case errors.Is(err, unix.EFAULT), errors.Is(err, unix.EIO):
		return memory.ErrUnmapped
	case errors.Is(err, unix.ESRCH):
		return ErrExited
	default:
		return err
	}
}
