package inspect

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/willibrandon/rbscope/pkg/memory"
)

// castExpr matches "(struct _thrdb_tree *)0x80012340" and "(T *)1234".
var castExpr = regexp.MustCompile(`^\(\s*([^()]*\*)\s*\)\s*(0[xX][0-9a-fA-F]+|[0-9]+)$`)

// StaticResolver resolves expressions without debug information: named
// symbols from a fixed table, or a pointer cast of a literal address.
type StaticResolver struct {
	Symbols map[string]Symbol
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(ctx context.Context, expr string) (Symbol, error) {
	expr = strings.TrimSpace(expr)
	if sym, ok := r.Symbols[expr]; ok {
		return sym, nil
	}
	m := castExpr.FindStringSubmatch(expr)
	if m == nil {
		return Symbol{}, fmt.Errorf("no symbol %q; use a cast such as (struct T *)0x1000", expr)
	}
	addr, err := strconv.ParseUint(m[2], 0, 64)
	if err != nil {
		return Symbol{}, fmt.Errorf("bad address in %q: %w", expr, err)
	}
	return Symbol{Addr: memory.Address(addr), Type: strings.Join(strings.Fields(m[1]), " ")}, nil
}
