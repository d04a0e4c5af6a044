package record

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/willibrandon/rbscope/pkg/image"
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
)

func TestThreadStateString(t *testing.T) {
	testCases := []struct {
		state ThreadState
		want  string
	}{
		{0, "DORMANT(0)"},
		{1, "RUN(1)"},
		{2, "RUNNABLE(2)"},
		{3, "WAIT(3)"},
		{4, "EXIT(4)"},
		{5, "DEAD(5)"},
		{9, "UNKNOWN(9)"},
		{-1, "UNKNOWN(-1)"},
	}
	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("ThreadState(%d).String() = %q, want %q", int64(tc.state), got, tc.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{"thread": KindThread, "Process": KindProcess, "proc": KindProcess} {
		got, err := ParseKind(name)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", name, got, err)
		}
	}
	_, err := ParseKind("inode")
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
}

func TestFormatThread(t *testing.T) {
	line, err := Format(Record{
		Kind:       KindThread,
		Addr:       0x80001000,
		ID:         7,
		State:      StateWait,
		ThreadInfo: 0x80200000,
		KernelSP:   0x80203f00,
		Process:    0x80004000,
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	want := "thread: 0x80001000 thread-id: 7 state: WAIT(3) thread-info: 0x80200000 ksp: 0x80203f00 proc: 0x80004000"
	if line != want {
		t.Errorf("Format =\n%q\nwant\n%q", line, want)
	}
}

func TestFormatProcess(t *testing.T) {
	line, err := Format(Record{Kind: KindProcess, Addr: 0x4000, ID: 1, PageTable: 0x9000, Name: "init", Master: 0x1000})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	want := "proc: 0x4000 pid: 1 pgtbl: 0x9000 name: init master: 0x1000"
	if line != want {
		t.Errorf("Format = %q, want %q", line, want)
	}
}

func TestFormatUnknownKind(t *testing.T) {
	_, err := Format(Record{Kind: Kind(42)})
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
	if _, err := (Record{}).View(); !errors.As(err, &tm) {
		t.Errorf("View of unknown kind: expected TypeMismatchError, got %v", err)
	}
}

func threadLayout() layout.RecordLayout {
	return layout.NewRecordLayout(map[string]layout.Field{
		FieldState:      {Offset: 0, Size: 4},
		FieldID:         {Offset: 8, Size: 8},
		FieldThreadInfo: {Offset: 56, Size: 8},
		FieldKernelSP:   {Offset: 64, Size: 8},
		FieldProcess:    {Offset: 72, Size: 8},
	})
}

func TestDecodeThread(t *testing.T) {
	img := image.New(image.DefaultArch)
	const rec memory.Address = 0x5000
	_ = img.Map(rec, 128)
	_ = img.WriteUint(rec, 4, 2)
	_ = img.WriteUint(rec.Add(8), 8, 12)
	_ = img.WritePointer(rec.Add(56), 0x7000)
	_ = img.WritePointer(rec.Add(64), 0x7f00)
	_ = img.WritePointer(rec.Add(72), 0x6000)
	r, _ := img.Reader()

	got, err := Decode(context.Background(), r, KindThread, threadLayout(), rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Record{Kind: KindThread, Addr: rec, ID: 12, State: StateRunnable, ThreadInfo: 0x7000, KernelSP: 0x7f00, Process: 0x6000}
	if got != want {
		t.Errorf("Decode = %+v, want %+v", got, want)
	}
}

func TestDecodeProcessName(t *testing.T) {
	img := image.New(image.DefaultArch)
	const rec memory.Address = 0x5000
	_ = img.Map(rec, 128)
	_ = img.WriteUint(rec.Add(80), 4, 3)
	_ = img.Write(rec.Add(88), []byte("shell\x00garbage"))
	r, _ := img.Reader()

	l := layout.NewRecordLayout(map[string]layout.Field{
		FieldPageTable: {Offset: 40, Size: 8},
		FieldMaster:    {Offset: 72, Size: 8},
		FieldID:        {Offset: 80, Size: 4},
		FieldName:      {Offset: 88, Size: 32},
	})
	got, err := Decode(context.Background(), r, KindProcess, l, rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "shell" || got.ID != 3 {
		t.Errorf("Decode = %+v", got)
	}

	// a name filling the whole field has no terminator
	_ = img.Write(rec.Add(88), []byte(strings.Repeat("x", 32)))
	got, err = Decode(context.Background(), r, KindProcess, l, rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Name) != 32 {
		t.Errorf("unterminated name length = %d, want 32", len(got.Name))
	}
}

func TestDecodeErrors(t *testing.T) {
	img := image.New(image.DefaultArch)
	_ = img.Map(0x5000, 16)
	r, _ := img.Reader()
	ctx := context.Background()

	var ce *layout.ConfigError
	if _, err := Decode(ctx, r, KindThread, layout.NewRecordLayout(nil), 0x5000); !errors.As(err, &ce) {
		t.Errorf("missing layout: expected ConfigError, got %v", err)
	}

	var ae *memory.AccessError
	if _, err := Decode(ctx, r, KindThread, threadLayout(), 0x5000); !errors.As(err, &ae) {
		t.Errorf("short record: expected AccessError, got %v", err)
	}

	var tm *TypeMismatchError
	if _, err := Decode(ctx, r, KindUnknown, threadLayout(), 0x5000); !errors.As(err, &tm) {
		t.Errorf("unknown kind: expected TypeMismatchError, got %v", err)
	}
}

func TestCheckLayout(t *testing.T) {
	if err := CheckLayout(KindThread, threadLayout()); err != nil {
		t.Fatalf("CheckLayout: %v", err)
	}
	for _, size := range []int{3, 16} {
		fields := threadLayout().Fields
		fields[FieldState] = layout.Field{Offset: 0, Size: size}
		var ce *layout.ConfigError
		err := CheckLayout(KindThread, layout.NewRecordLayout(fields))
		if !errors.As(err, &ce) || ce.Field != FieldState {
			t.Errorf("state size %d: expected ConfigError on state, got %v", size, err)
		}
	}

	// a long name is fine, it is a byte array
	proc := layout.NewRecordLayout(map[string]layout.Field{
		FieldID:        {Offset: 8, Size: 4},
		FieldPageTable: {Offset: 56, Size: 8},
		FieldName:      {Offset: 64, Size: 48},
		FieldMaster:    {Offset: 112, Size: 8},
	})
	if err := CheckLayout(KindProcess, proc); err != nil {
		t.Errorf("process layout: %v", err)
	}
}

func TestViewJSON(t *testing.T) {
	v, err := Record{Kind: KindThread, Addr: 0x10, ID: 1, State: StateDormant}.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"state":"DORMANT(0)"`) || !strings.Contains(string(b), `"addr":"0x10"`) {
		t.Errorf("unexpected JSON %s", b)
	}
}
