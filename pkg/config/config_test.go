package config

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/rbtree"
	"github.com/willibrandon/rbscope/pkg/record"
)

const offsetsHeader = `#ifndef _ASM_OFFSETS_H
#define _ASM_OFFSETS_H
#define THRD_ENT_LEFT (16) /*< __asm_offsetof(struct _thread, ent.rbe_left) */
#define THRD_ENT_RIGHT (24) /*< __asm_offsetof(struct _thread, ent.rbe_right) */
#define THRD_ENT_PARENT (32) /*< __asm_offsetof(struct _thread, ent.rbe_parent) */
#define THRD_ID (8) /*< __asm_offsetof(struct _thread, id) */
#endif
`

const configYAML = `
target:
  pointer_size: 8
walk:
  limit: 100
symbols:
  - name: "&g_thrdb.head"
    addr: "0x10000000"
    type: struct _thrdb_tree *
trees:
  _thrdb_tree:
    kind: thread
    entry_field: ent
    entry:
      left: THRD_ENT_LEFT
      right: THRD_ENT_RIGHT
      parent: THRD_ENT_PARENT
      record: 0
      root: 8
    fields:
      state: {offset: 0}
      id: {offset: THRD_ID, size: 8}
      tinfo: {offset: 56}
      ksp: {offset: 64}
      proc: {offset: 72}
`

func writeFiles(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	hdr := filepath.Join(dir, "asm-offset.h")
	if err := os.WriteFile(hdr, []byte(offsetsHeader), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "rbscope.yaml")
	if err := os.WriteFile(path, []byte(cfg+"offsets: "+hdr+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target.PointerSize != 8 || cfg.ByteOrder() != binary.LittleEndian {
		t.Errorf("unexpected target %+v", cfg.Target)
	}
	if cfg.Walk.MaxSteps != rbtree.DefaultMaxSteps {
		t.Errorf("max_steps = %d", cfg.Walk.MaxSteps)
	}
	if cfg.Output != "text" || cfg.Log.Level != "info" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	path := writeFiles(t, configYAML)
	t.Setenv("RBSCOPE_WALK__MAX_STEPS", "500")
	t.Setenv("RBSCOPE_TARGET__BYTE_ORDER", "big")

	cfg, err := Load(path, map[string]any{"walk.limit": 7})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Walk.MaxSteps != 500 {
		t.Errorf("env did not set max_steps: %d", cfg.Walk.MaxSteps)
	}
	if cfg.ByteOrder() != binary.BigEndian || !cfg.Arch().BigEndian {
		t.Errorf("env did not set byte order: %q", cfg.Target.ByteOrder)
	}
	if cfg.Walk.Limit != 7 {
		t.Errorf("override did not win over file: limit %d", cfg.Walk.Limit)
	}
	if len(cfg.Trees) != 1 {
		t.Fatalf("trees = %+v", cfg.Trees)
	}
}

func TestCatalog(t *testing.T) {
	cfg, err := Load(writeFiles(t, configYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	syms, err := cfg.LoadOffsets()
	if err != nil {
		t.Fatalf("LoadOffsets: %v", err)
	}
	cat, err := cfg.Catalog(syms)
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	spec, err := cat.Lookup("_thrdb_tree")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if spec.Kind != record.KindThread || spec.EntryField != "ent" {
		t.Errorf("unexpected spec %+v", spec)
	}
	wantEntry := layout.EntryDescriptor{LeftOffset: 16, RightOffset: 24, ParentOffset: 32, RecordOffset: 0, RootOffset: 8}
	if diff := cmp.Diff(wantEntry, spec.Entry); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	wantFields := map[string]layout.Field{
		record.FieldState:      {Offset: 0, Size: 4},
		record.FieldID:         {Offset: 8, Size: 8},
		record.FieldThreadInfo: {Offset: 56, Size: 8},
		record.FieldKernelSP:   {Offset: 64, Size: 8},
		record.FieldProcess:    {Offset: 72, Size: 8},
	}
	if diff := cmp.Diff(wantFields, spec.Layout.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalogErrors(t *testing.T) {
	testCases := []struct {
		name string
		tree TreeSpec
	}{
		{"missing left", TreeSpec{
			Kind:  "thread",
			Entry: map[string]string{"right": "8", "parent": "16", "record": "0"},
		}},
		{"unknown symbol", TreeSpec{
			Kind:  "thread",
			Entry: map[string]string{"left": "NOPE", "right": "8", "parent": "16", "record": "0"},
		}},
		{"missing fields", TreeSpec{
			Kind:   "process",
			Entry:  map[string]string{"left": "0", "right": "8", "parent": "16", "record": "0"},
			Fields: map[string]FieldSpec{"id": {Offset: "0"}},
		}},
		{"odd id size", TreeSpec{
			Kind:  "process",
			Entry: map[string]string{"left": "0", "right": "8", "parent": "16", "record": "0"},
			Fields: map[string]FieldSpec{
				"id":     {Offset: "24", Size: 3},
				"pgt":    {Offset: "32"},
				"name":   {Offset: "40"},
				"master": {Offset: "72"},
			},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Target: TargetConfig{PointerSize: 8}, Trees: map[string]TreeSpec{"t": tc.tree}}
			_, err := cfg.Catalog(layout.SymbolTable{})
			var ce *layout.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}

	cfg := &Config{Target: TargetConfig{PointerSize: 8}, Trees: map[string]TreeSpec{"t": {Kind: "inode"}}}
	var tm *record.TypeMismatchError
	if _, err := cfg.Catalog(nil); !errors.As(err, &tm) {
		t.Errorf("unknown kind: expected TypeMismatchError, got %v", err)
	}
}

func TestResolver(t *testing.T) {
	cfg, err := Load(writeFiles(t, configYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := cfg.Resolver()
	if err != nil {
		t.Fatalf("Resolver: %v", err)
	}
	sym, err := res.Resolve(context.Background(), "&g_thrdb.head")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sym.Addr != 0x10000000 || sym.Type != "struct _thrdb_tree *" {
		t.Errorf("Resolve = %+v", sym)
	}

	bad := &Config{Symbols: []SymbolSpec{{Name: "x", Addr: "zz"}}}
	var ce *layout.ConfigError
	if _, err := bad.Resolver(); !errors.As(err, &ce) {
		t.Errorf("bad address: expected ConfigError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	for key, val := range map[string]any{
		"target.pointer_size": 6,
		"target.byte_order":   "middle",
		"walk.max_steps":      0,
		"walk.limit":          -1,
		"image.compression":   "lz4",
	} {
		if _, err := Load("", map[string]any{key: val}); err == nil {
			t.Errorf("%s=%v: expected validation error", key, val)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}
