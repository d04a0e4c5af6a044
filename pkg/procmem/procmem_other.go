//go:build !linux

package procmem

import "github.com/willibrandon/rbscope/pkg/memory"

func (p *Process) open() error {
	return ErrUnsupported
}

func (p *Process) read(addr memory.Address, buf []byte) error {
	return ErrUnsupported
}
