package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrUnmapped is returned by accessors when no mapping covers an address.
	ErrUnmapped = errors.New("address not mapped")

	errBadSize = errors.New("invalid read size")
)

// AccessError reports a failed read of target memory.
type AccessError struct {
	Addr Address
	Size int
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("read %d bytes at %s: %v", e.Size, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// wrapAccess keeps an accessor's own *AccessError intact and wraps anything else.
func wrapAccess(addr Address, size int, err error) error {
	var ae *AccessError
	if errors.As(err, &ae) {
		return err
	}
	return &AccessError{Addr: addr, Size: size, Err: err}
}
