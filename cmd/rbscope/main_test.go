package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// run executes the app with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader("")
	err := app.Run(append([]string{"rbscope"}, args...))
	return out.String(), err
}

func writeTestSample(t *testing.T, threads, procs int) sampleFiles {
	t.Helper()
	dir := t.TempDir()
	if _, err := run(t, "sample", "--dir", dir, "--threads", strconv.Itoa(threads), "--procs", strconv.Itoa(procs)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	return sampleFiles{
		Image:   filepath.Join(dir, "sample.img"),
		Offsets: filepath.Join(dir, "offsets.h"),
		Config:  filepath.Join(dir, "rbscope.yaml"),
	}
}

func TestDumpThreads(t *testing.T) {
	files := writeTestSample(t, 8, 3)
	out, err := run(t, "--config", files.Config, "dump", "--image", files.Image, "&g_thrdb.head", "_thrdb_tree", "ent")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want 8:\n%s", len(lines), out)
	}
	var ids []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "thread: 0x") {
			t.Errorf("unexpected line %q", line)
		}
		f := strings.Fields(line)
		ids = append(ids, f[3])
	}
	if diff := cmp.Diff([]string{"1", "2", "3", "4", "5", "6", "7", "8"}, ids); diff != "" {
		t.Errorf("thread ids (-want +got):\n%s", diff)
	}
	if !strings.Contains(lines[0], "state: DORMANT(0)") || !strings.Contains(lines[1], "state: RUN(1)") {
		t.Errorf("states not decoded:\n%s", out)
	}
}

func TestDumpProcessesJSON(t *testing.T) {
	files := writeTestSample(t, 0, 3)
	out, err := run(t, "--config", files.Config, "-o", "json", "dump", "--image", files.Image, "&g_procdb.head", "_procdb_tree", "ent")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var v struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("bad JSON line %q: %v", line, err)
		}
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{"init", "shell", "idle"}, names); diff != "" {
		t.Errorf("process names (-want +got):\n%s", diff)
	}
}

func TestDumpEmptyAndLimit(t *testing.T) {
	files := writeTestSample(t, 0, 2)
	out, err := run(t, "--config", files.Config, "dump", "--image", files.Image, "&g_thrdb.head", "_thrdb_tree", "ent")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.TrimSpace(out) != "pool is empty" {
		t.Errorf("empty tree output = %q", out)
	}

	files = writeTestSample(t, 6, 2)
	out, err = run(t, "--config", files.Config, "dump", "--image", files.Image, "--limit", "2", "&g_thrdb.head", "_thrdb_tree", "ent")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 3 || !strings.Contains(lines[2], "truncated") {
		t.Errorf("limited output:\n%s", out)
	}
}

func TestDumpErrors(t *testing.T) {
	files := writeTestSample(t, 2, 1)
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"no target", []string{"--config", files.Config, "dump", "&g_thrdb.head", "_thrdb_tree", "ent"}, "no target"},
		{"two targets", []string{"--config", files.Config, "dump", "--image", files.Image, "--pid", "1", "&g_thrdb.head", "_thrdb_tree", "ent"}, "more than one target"},
		{"bad usage", []string{"--config", files.Config, "dump", "--image", files.Image, "&g_thrdb.head"}, "usage"},
		{"type mismatch", []string{"--config", files.Config, "dump", "--image", files.Image, "&g_procdb.head", "_thrdb_tree", "ent"}, "expected pointer argument of type (_thrdb_tree *), node: struct _procdb_tree *"},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "dump", "--image", files.Image, "&g_thrdb.head", "_thrdb_tree", "ent"}, "config file"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestOffsets(t *testing.T) {
	files := writeTestSample(t, 1, 1)
	out, err := run(t, "offsets", files.Offsets)
	if err != nil {
		t.Fatalf("offsets: %v", err)
	}
	for _, want := range []string{"THR_ENT_LEFT", "PROC_ENT_PARENT", "RBHEAD_ROOT"} {
		if !strings.Contains(out, want) {
			t.Errorf("offsets output missing %s:\n%s", want, out)
		}
	}

	// falls back to the configured header
	out2, err := run(t, "--config", files.Config, "offsets")
	if err != nil || out2 != out {
		t.Errorf("configured offsets = %q, %v", out2, err)
	}
}

func TestRepl(t *testing.T) {
	files := writeTestSample(t, 3, 1)
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.Reader = strings.NewReader("rbtree_dump &g_thrdb.head _thrdb_tree ent\nlast\nnext\nquit\n")
	if err := app.Run([]string{"rbscope", "--config", files.Config, "repl", "--image", files.Image}); err != nil {
		t.Fatalf("repl: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 || !strings.Contains(lines[3], "thread-id: 3") || lines[4] != "End of tree" {
		t.Errorf("repl output:\n%s", out.String())
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "rbscope ") {
		t.Errorf("version = %q, %v", out, err)
	}

	out, err = run(t, "-o", "json", "version")
	var info struct {
		Version string `json:"version"`
	}
	if err != nil || json.Unmarshal([]byte(out), &info) != nil || info.Version == "" {
		t.Errorf("json version = %q, %v", out, err)
	}
}

func TestSampleRejectsBadCounts(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "sample", "--dir", dir, "--procs", "0"); err == nil {
		t.Error("sample with no processes: expected error")
	}
	if _, err := os.Stat(filepath.Join(dir, "sample.img")); err == nil {
		t.Error("a rejected sample wrote an image")
	}
}
