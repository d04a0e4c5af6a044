package layout

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// SymbolTable maps generated offset constant names to their values.
type SymbolTable map[string]int64

// defineLine matches the lines of a generated offsets header:
//
//	#define TI_KSTACK_OFFSET (24) /*< __asm_offsetof(struct _thread_info, kstack) */
var defineLine = regexp.MustCompile(`^#\s*define\s+([A-Za-z_][A-Za-z0-9_]*)\s+\(?\s*\$?(-?(?:0[xX][0-9a-fA-F]+|[0-9]+))\s*\)?`)

// ParseOffsetHeader reads a generated offsets header. Lines that are not
// numeric #defines (include guards, comments) are skipped.
func ParseOffsetHeader(r io.Reader) (SymbolTable, error) {
	syms := make(SymbolTable)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		m := defineLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[2], 0, 64)
		if err != nil {
			return nil, &ConfigError{Field: m[1], Reason: fmt.Sprintf("line %d: bad value %q", line, m[2])}
		}
		syms[m[1]] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read offsets header: %w", err)
	}
	return syms, nil
}

// Resolve turns a reference into an offset. A reference is either an integer
// literal (decimal, 0x hex, optionally negative) or the name of a symbol.
func (s SymbolTable) Resolve(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, &ConfigError{Reason: "empty offset reference"}
	}
	if v, err := strconv.ParseInt(ref, 0, 64); err == nil {
		return v, nil
	}
	v, ok := s[ref]
	if !ok {
		return 0, &ConfigError{Field: ref, Reason: "unknown offset symbol"}
	}
	return v, nil
}

// ResolveAll resolves every reference of refs, keyed the same way.
func (s SymbolTable) ResolveAll(refs map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(refs))
	for _, k := range sortedKeys(refs) {
		v, err := s.Resolve(refs[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Names returns the symbol names in ascending order
func (s SymbolTable) Names() []string {
	return sortedKeys(s)
}
