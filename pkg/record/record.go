// Package record decodes and formats the records stored in inspected trees.
package record

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
)

// Kind selects how a record is decoded and printed
type Kind int

const (
	KindUnknown Kind = iota
	KindThread
	KindProcess
)

// String returns the kind name accepted by ParseKind
func (k Kind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindProcess:
		return "process"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a kind name to a Kind. "proc" is accepted for process.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "thread":
		return KindThread, nil
	case "process", "proc":
		return KindProcess, nil
	default:
		return KindUnknown, &TypeMismatchError{Want: "thread or process", Got: name}
	}
}

// Field names used by the thread and process layouts.
const (
	FieldID         = "id"
	FieldState      = "state"
	FieldThreadInfo = "tinfo"
	FieldKernelSP   = "ksp"
	FieldProcess    = "proc"
	FieldPageTable  = "pgt"
	FieldName       = "name"
	FieldMaster     = "master"
)

// DefaultNameLen is the fixed length of a process name, terminator included.
const DefaultNameLen = 32

// Fields returns the field names a kind needs
func Fields(k Kind) []string {
	switch k {
	case KindThread:
		return []string{FieldID, FieldState, FieldThreadInfo, FieldKernelSP, FieldProcess}
	case KindProcess:
		return []string{FieldID, FieldPageTable, FieldName, FieldMaster}
	default:
		return nil
	}
}

// DefaultSize returns the size assumed for a field whose layout leaves it out.
func DefaultSize(field string, pointerSize int) int {
	switch field {
	case FieldID, FieldState:
		return 4
	case FieldName:
		return DefaultNameLen
	default:
		return pointerSize
	}
}

// Record is one decoded tree record. Only the fields of its Kind are set.
type Record struct {
	Kind Kind
	Addr memory.Address
	ID   int64

	State      ThreadState
	ThreadInfo memory.Address
	KernelSP   memory.Address
	Process    memory.Address

	PageTable memory.Address
	Name      string
	Master    memory.Address
}

// ThreadView is the structured form of a thread record
type ThreadView struct {
	Addr       memory.Address `json:"addr" yaml:"addr"`
	ID         int64          `json:"thread_id" yaml:"thread_id"`
	State      ThreadState    `json:"state" yaml:"state"`
	ThreadInfo memory.Address `json:"thread_info" yaml:"thread_info"`
	KernelSP   memory.Address `json:"ksp" yaml:"ksp"`
	Process    memory.Address `json:"proc" yaml:"proc"`
}

// ProcessView is the structured form of a process record
type ProcessView struct {
	Addr      memory.Address `json:"addr" yaml:"addr"`
	ID        int64          `json:"pid" yaml:"pid"`
	PageTable memory.Address `json:"pgtbl" yaml:"pgtbl"`
	Name      string         `json:"name" yaml:"name"`
	Master    memory.Address `json:"master" yaml:"master"`
}

// View returns the kind-specific structure used for JSON and YAML output.
func (r Record) View() (any, error) {
	switch r.Kind {
	case KindThread:
		return ThreadView{Addr: r.Addr, ID: r.ID, State: r.State, ThreadInfo: r.ThreadInfo, KernelSP: r.KernelSP, Process: r.Process}, nil
	case KindProcess:
		return ProcessView{Addr: r.Addr, ID: r.ID, PageTable: r.PageTable, Name: r.Name, Master: r.Master}, nil
	default:
		return nil, &TypeMismatchError{Want: "thread or process", Got: r.Kind.String()}
	}
}

// CheckLayout reports whether l locates every field of kind with a size the
// decoder can read. Integer and address fields must be 1, 2, 4 or 8 bytes.
func CheckLayout(kind Kind, l layout.RecordLayout) error {
	fields := Fields(kind)
	if fields == nil {
		return &TypeMismatchError{Want: "thread or process", Got: kind.String()}
	}
	if err := l.Require(fields...); err != nil {
		return err
	}
	for _, name := range fields {
		if name == FieldName {
			continue
		}
		switch f, _ := l.Field(name); f.Size {
		case 1, 2, 4, 8:
		default:
			return &layout.ConfigError{Field: name, Reason: fmt.Sprintf("size %d is not 1, 2, 4 or 8", f.Size)}
		}
	}
	return nil
}

// Decode reads the record of the given kind at addr.
func Decode(ctx context.Context, mem *memory.Reader, kind Kind, l layout.RecordLayout, addr memory.Address) (Record, error) {
	if err := CheckLayout(kind, l); err != nil {
		return Record{}, err
	}

	d := decoder{ctx: ctx, mem: mem, l: l, addr: addr}
	rec := Record{Kind: kind, Addr: addr}
	rec.ID = d.int(FieldID)
	switch kind {
	case KindThread:
		rec.State = ThreadState(d.int(FieldState))
		rec.ThreadInfo = d.ptr(FieldThreadInfo)
		rec.KernelSP = d.ptr(FieldKernelSP)
		rec.Process = d.ptr(FieldProcess)
	case KindProcess:
		rec.PageTable = d.ptr(FieldPageTable)
		rec.Name = d.str(FieldName)
		rec.Master = d.ptr(FieldMaster)
	}
	if d.err != nil {
		return Record{}, fmt.Errorf("decode %s at %s: %w", kind, addr, d.err)
	}
	return rec, nil
}

// decoder keeps the first read error so Decode reads like a struct literal.
type decoder struct {
	ctx  context.Context
	mem  *memory.Reader
	l    layout.RecordLayout
	addr memory.Address
	err  error
}

func (d *decoder) int(name string) int64 {
	if d.err != nil {
		return 0
	}
	f, _ := d.l.Field(name)
	v, err := d.mem.Int(d.ctx, d.addr.Add(f.Offset), f.Size)
	if err != nil {
		d.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (d *decoder) ptr(name string) memory.Address {
	if d.err != nil {
		return memory.Null
	}
	f, _ := d.l.Field(name)
	v, err := d.mem.Uint(d.ctx, d.addr.Add(f.Offset), f.Size)
	if err != nil {
		d.err = fmt.Errorf("field %s: %w", name, err)
	}
	return memory.Address(v)
}

// str reads a fixed-length, NUL-terminated character field.
func (d *decoder) str(name string) string {
	if d.err != nil {
		return ""
	}
	f, _ := d.l.Field(name)
	b, err := d.mem.Bytes(d.ctx, d.addr.Add(f.Offset), f.Size)
	if err != nil {
		d.err = fmt.Errorf("field %s: %w", name, err)
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.ToValidUTF8(string(b), "?")
}
