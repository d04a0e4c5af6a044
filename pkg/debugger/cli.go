package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/willibrandon/rbscope/pkg/inspect"
	"github.com/willibrandon/rbscope/pkg/logging"
	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/record"
	"github.com/willibrandon/rbscope/pkg/snapshot"
)

// Halter is implemented by targets that can be stopped, like DelveTarget.
type Halter interface {
	Halt() error
}

// CLIOptions configure a CLI. Zero values read stdin and write stdout.
type CLIOptions struct {
	In  io.Reader
	Out io.Writer
	// Target is closed on quit and halted by the halt command when it
	// implements Halter.
	Target io.Closer
	Format inspect.Format
}

// CLI is the interactive tree browser
type CLI struct {
	insp     *inspect.Inspector
	target   io.Closer
	in       *bufio.Reader
	out      io.Writer
	prompt   bool
	format   inspect.Format
	running  bool
	displays *DisplayManager

	// cursor state from the last dump
	cursor *snapshot.Cursor
	spec   inspect.TreeSpec
}

// NewCLI creates a CLI over insp. Prompts are printed only when input is a
// terminal.
func NewCLI(insp *inspect.Inspector, opts CLIOptions) *CLI {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &CLI{
		insp:     insp,
		target:   opts.Target,
		in:       bufio.NewReader(in),
		out:      out,
		prompt:   logging.IsTerminal(in),
		format:   opts.Format,
		displays: NewDisplayManager(),
	}
}

// Start runs the command loop until quit or end of input.
func (c *CLI) Start(ctx context.Context) error {
	c.running = true
	if c.prompt {
		fmt.Fprintln(c.out, "rbscope tree browser, type help for commands")
	}
	for c.running {
		if c.prompt {
			fmt.Fprint(c.out, "(rbscope) ")
		}
		line, err := c.in.ReadString('\n')
		if line != "" {
			c.Execute(ctx, strings.TrimSpace(line))
		}
		if err == io.EOF {
			c.quit()
			return nil
		}
		if err != nil {
			c.quit()
			return err
		}
		if ctx.Err() != nil {
			c.quit()
			return ctx.Err()
		}
	}
	return nil
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nTree commands:")
	fmt.Fprintln(c.out, "  rbtree_dump (d) <root-expr> <type> <entry-field> - Dump a tree in order")
	fmt.Fprintln(c.out, "  first (f) / last (l)  - Move to the smallest / largest record of the last dump")
	fmt.Fprintln(c.out, "  next (n) / prev (p)   - Step to the successor / predecessor")
	fmt.Fprintln(c.out, "  trees                 - List known tree types")
	fmt.Fprintln(c.out, "\nDisplay commands:")
	fmt.Fprintln(c.out, "  display <root-expr> <type> <entry-field> - Dump on every refresh")
	fmt.Fprintln(c.out, "  display list          - List displays")
	fmt.Fprintln(c.out, "  display remove <id>   - Remove a display")
	fmt.Fprintln(c.out, "  display enable <id>   - Enable a display")
	fmt.Fprintln(c.out, "  display disable <id>  - Disable a display")
	fmt.Fprintln(c.out, "  refresh (r)           - Run all enabled displays")
	if _, ok := c.target.(Halter); ok {
		fmt.Fprintln(c.out, "  halt                  - Stop the target")
	}
	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)              - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)              - Exit")
}

// Execute runs one command line. Arguments are split the way a shell
// would, so a cast such as "(struct _thrdb_tree *)0x80012340" can be quoted.
func (c *CLI) Execute(ctx context.Context, input string) {
	parts, err := shellquote.Split(input)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(parts) == 0 {
		return
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "q", "quit", "exit":
		c.quit()
	case "d", "dump", "rbtree_dump":
		c.handleDump(ctx, args)
	case "f", "first":
		c.handleMove(ctx, (*snapshot.Cursor).First)
	case "l", "last":
		c.handleMove(ctx, (*snapshot.Cursor).Last)
	case "n", "next":
		c.handleMove(ctx, (*snapshot.Cursor).Next)
	case "p", "prev":
		c.handleMove(ctx, (*snapshot.Cursor).Prev)
	case "trees":
		for _, name := range c.insp.Catalog().Names() {
			spec := c.insp.Catalog()[name]
			fmt.Fprintf(c.out, "%s: %s records linked by %s (%s)\n", name, spec.Kind, spec.EntryField, spec.Entry)
		}
	case "display":
		c.handleDisplay(ctx, args)
	case "r", "refresh":
		c.handleRefresh(ctx)
	case "halt":
		c.handleHalt()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

func (c *CLI) quit() {
	if !c.running && c.target == nil {
		return
	}
	c.running = false
	if c.target != nil {
		if err := c.target.Close(); err != nil {
			fmt.Fprintf(c.out, "Error closing target: %v\n", err)
		}
		c.target = nil
	}
}

// handleDump prints a whole tree and leaves the cursor on it.
func (c *CLI) handleDump(ctx context.Context, args []string) {
	req, err := inspect.ParseRequest(args)
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	if !c.dump(ctx, req) {
		return
	}
	h, spec, err := c.insp.Handle(ctx, req)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.cursor = snapshot.NewCursor(c.insp.Navigator(), h)
	c.spec = spec
}

// dump runs req and prints the result, reporting whether it succeeded.
func (c *CLI) dump(ctx context.Context, req inspect.Request) bool {
	res, err := c.insp.Run(ctx, req)
	if err != nil {
		c.printError(err)
		return false
	}
	if err := inspect.NewFormatter(c.format).Format(c.out, res); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return false
	}
	return true
}

func (c *CLI) printError(err error) {
	var tm *record.TypeMismatchError
	if errors.As(err, &tm) {
		fmt.Fprintf(c.out, "Expected pointer argument of type %s\n", tm.Want)
		fmt.Fprintf(c.out, "node: %s\n", tm.Got)
		return
	}
	fmt.Fprintf(c.out, "Error: %v\n", err)
}

type cursorMove func(*snapshot.Cursor, context.Context) (memory.Address, error)

// handleMove steps the cursor and prints the record under it.
func (c *CLI) handleMove(ctx context.Context, move cursorMove) {
	if c.cursor == nil {
		fmt.Fprintln(c.out, "No tree selected, run rbtree_dump first")
		return
	}
	n, err := move(c.cursor, ctx)
	switch {
	case errors.Is(err, snapshot.ErrNoPosition):
		fmt.Fprintln(c.out, "Cursor not positioned, use first or last")
		return
	case errors.Is(err, snapshot.ErrAtEnd):
		fmt.Fprintln(c.out, "End of tree")
		return
	case err != nil:
		c.printError(err)
		return
	case n.IsNull():
		fmt.Fprintln(c.out, inspect.EmptyMessage)
		return
	}
	rec, err := c.insp.Decode(ctx, c.cursor.Handle(), c.spec, n)
	if err != nil {
		c.printError(err)
		return
	}
	line, err := record.Format(rec)
	if err != nil {
		c.printError(err)
		return
	}
	fmt.Fprintln(c.out, line)
}

// handleDisplay handles all display-related commands
func (c *CLI) handleDisplay(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: display <root-expr> <type> <entry-field> or display <command> [id]")
		fmt.Fprintln(c.out, "Commands: list, remove, enable, disable")
		return
	}

	switch args[0] {
	case "list":
		all := c.displays.All()
		if len(all) == 0 {
			fmt.Fprintln(c.out, "No displays")
			return
		}
		for _, d := range all {
			state := "enabled"
			if !d.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(c.out, "%d: %s (%s)\n", d.ID, d.Request, state)
		}
	case "remove", "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(c.out, "Usage: display %s <id>\n", args[0])
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid display ID: %v\n", err)
			return
		}
		op := map[string]func(int) error{
			"remove":  c.displays.Remove,
			"enable":  c.displays.Enable,
			"disable": c.displays.Disable,
		}[args[0]]
		if err := op(id); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Display %d: %s\n", id, args[0]+"d")
	default:
		req, err := inspect.ParseRequest(args)
		if err != nil {
			fmt.Fprintln(c.out, err)
			return
		}
		// reject bad requests now rather than on every refresh
		if _, _, err := c.insp.Handle(ctx, req); err != nil {
			c.printError(err)
			return
		}
		d := c.displays.Add(req)
		fmt.Fprintf(c.out, "Display %d: %s\n", d.ID, d.Request)
	}
}

// handleRefresh reruns every enabled display
func (c *CLI) handleRefresh(ctx context.Context) {
	enabled := c.displays.Enabled()
	if len(enabled) == 0 {
		fmt.Fprintln(c.out, "No enabled displays")
		return
	}
	for _, d := range enabled {
		fmt.Fprintf(c.out, "%d: %s\n", d.ID, d.Request)
		c.dump(ctx, d.Request)
	}
}

func (c *CLI) handleHalt() {
	h, ok := c.target.(Halter)
	if !ok {
		fmt.Fprintln(c.out, "Target cannot be halted")
		return
	}
	if err := h.Halt(); err != nil {
		fmt.Fprintf(c.out, "Error halting target: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Target halted")
}
