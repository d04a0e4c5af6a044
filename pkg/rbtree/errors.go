package rbtree

import (
	"fmt"

	"github.com/willibrandon/rbscope/pkg/memory"
)

// CorruptStructureError reports linkage that cannot belong to a finite tree:
// a node reached twice within one walk, or a walk longer than the step bound.
type CorruptStructureError struct {
	Op     string
	Addr   memory.Address
	Steps  int
	Reason string
}

func (e *CorruptStructureError) Error() string {
	return fmt.Sprintf("corrupt tree structure during %s at %s after %d steps: %s", e.Op, e.Addr, e.Steps, e.Reason)
}
