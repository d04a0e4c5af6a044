package inspect

import (
	"context"
	"testing"
)

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{Symbols: map[string]Symbol{
		"&g_thrdb.head": {Addr: 0x80010000, Type: "struct _thrdb_tree *"},
	}}
	testCases := []struct {
		expr string
		want Symbol
		ok   bool
	}{
		{"&g_thrdb.head", Symbol{Addr: 0x80010000, Type: "struct _thrdb_tree *"}, true},
		{"(struct _proc_tree *)0x1000", Symbol{Addr: 0x1000, Type: "struct _proc_tree *"}, true},
		{"( _proc_tree  * ) 4096", Symbol{Addr: 4096, Type: "_proc_tree *"}, true},
		{"(struct _proc_tree)0x1000", Symbol{}, false},
		{"g_unknown", Symbol{}, false},
	}
	for _, tc := range testCases {
		got, err := r.Resolve(context.Background(), tc.expr)
		if (err == nil) != tc.ok {
			t.Errorf("Resolve(%q) error = %v, want ok=%v", tc.expr, err, tc.ok)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %+v, want %+v", tc.expr, got, tc.want)
		}
	}
}
