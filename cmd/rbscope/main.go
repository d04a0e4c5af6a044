// Command rbscope dumps intrusive binary search trees out of the memory of a
// live process, a Delve session or a captured memory image.
//
// Usage:
//
//	rbscope --config rbscope.yaml dump --image sample.img '&g_thrdb.head' _thrdb_tree ent
//	rbscope --config rbscope.yaml repl --dlv localhost:4040
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := App()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
