package record

import (
	"fmt"
	"strconv"
)

// ThreadState is the scheduler state code stored in a thread record.
type ThreadState int64

const (
	StateDormant ThreadState = iota
	StateRun
	StateRunnable
	StateWait
	StateExit
	StateDead
)

var stateNames = [...]string{
	StateDormant:  "DORMANT",
	StateRun:      "RUN",
	StateRunnable: "RUNNABLE",
	StateWait:     "WAIT",
	StateExit:     "EXIT",
	StateDead:     "DEAD",
}

// Name returns the state name without the code, UNKNOWN for codes out of
// the table
func (s ThreadState) Name() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// String formats the state as NAME(code), e.g. WAIT(3) or UNKNOWN(9).
func (s ThreadState) String() string {
	return s.Name() + "(" + strconv.FormatInt(int64(s), 10) + ")"
}

// MarshalText lets JSON and YAML output show the formatted state
func (s ThreadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Format renders one display line for rec.
func Format(rec Record) (string, error) {
	switch rec.Kind {
	case KindThread:
		return fmt.Sprintf("thread: %s thread-id: %d state: %s thread-info: %s ksp: %s proc: %s",
			rec.Addr, rec.ID, rec.State, rec.ThreadInfo, rec.KernelSP, rec.Process), nil
	case KindProcess:
		return fmt.Sprintf("proc: %s pid: %d pgtbl: %s name: %s master: %s",
			rec.Addr, rec.ID, rec.PageTable, rec.Name, rec.Master), nil
	default:
		return "", &TypeMismatchError{Want: "thread or process", Got: rec.Kind.String()}
	}
}
