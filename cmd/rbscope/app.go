package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/rbscope/pkg/config"
	"github.com/willibrandon/rbscope/pkg/debugger"
	"github.com/willibrandon/rbscope/pkg/inspect"
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/logging"
	"github.com/willibrandon/rbscope/pkg/rbtree"
	"github.com/willibrandon/rbscope/pkg/record"
	"github.com/willibrandon/rbscope/pkg/version"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "rbscope",
		Usage:   "dump intrusive binary search trees from target memory",
		Version: version.Version,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			dumpCommand(),
			replCommand(),
			offsetsCommand(),
			sampleCommand(),
			versionCommand(),
		},
	}
}

// globalFlags returns the flags available to every command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"RBSCOPE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: text, json, auto",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text, json, yaml",
		},
		&cli.IntFlag{
			Name:  "max-steps",
			Usage: "Bound on the steps of a single tree walk",
		},
	}
}

// targetFlags select what memory is inspected. Exactly one must be set.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "image", Usage: "Read a memory image file"},
		&cli.IntFlag{Name: "pid", Usage: "Read the memory of a live process"},
		&cli.StringFlag{Name: "pid-of", Usage: "Like --pid, for the only process running executable `NAME`"},
		&cli.StringFlag{Name: "dlv", Usage: "Connect to a headless Delve server at `ADDR`"},
		&cli.IntFlag{Name: "attach", Usage: "Start dlv attached to `PID`"},
		&cli.StringFlag{Name: "core", Usage: "Start dlv on a core file, with --exe"},
		&cli.StringFlag{Name: "exe", Usage: "Executable for --core"},
		&cli.StringFlag{Name: "dlv-path", Usage: "dlv binary used by --attach and --core"},
		&cli.DurationFlag{Name: "dlv-timeout", Value: debugger.DefaultConnectTimeout, Usage: "How long to wait for the Delve server"},
	}
}

// loadConfig merges the config file, the environment and the global flags
// that were set explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := map[string]any{}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if c.IsSet("log-format") {
		overrides["log.format"] = c.String("log-format")
	}
	if c.IsSet("output") {
		overrides["output"] = c.String("output")
	}
	if c.IsSet("max-steps") {
		overrides["walk.max_steps"] = c.Int("max-steps")
	}
	if c.IsSet("limit") {
		overrides["walk.limit"] = c.Int("limit")
	}
	return config.Load(c.String("config"), overrides)
}

func newLogger(c *cli.Context, cfg *config.Config) *slog.Logger {
	lc := cfg.Log
	lc.Output = c.App.ErrWriter
	return logging.New(lc)
}

// session is everything a dump or a REPL needs.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	target *target
	insp   *inspect.Inspector
	format inspect.Format
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	format, err := inspect.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}
	logger := newLogger(c, cfg)

	syms, err := cfg.LoadOffsets()
	if err != nil {
		return nil, err
	}
	cat, err := cfg.Catalog(syms)
	if err != nil {
		return nil, err
	}
	if len(cat) == 0 {
		logger.Warn("no trees configured, every dump will be rejected")
	}

	t, err := openTarget(c, cfg, logger)
	if err != nil {
		return nil, err
	}
	nav := rbtree.New(rbtree.Options{MaxSteps: cfg.Walk.MaxSteps, Logger: logger})
	insp := inspect.New(cat, t.resolver, t.mem, inspect.Options{
		Navigator: nav,
		Limit:     cfg.Walk.Limit,
		Logger:    logger,
	})
	return &session{cfg: cfg, logger: logger, target: t, insp: insp, format: format}, nil
}

func dumpCommand() *cli.Command {
	flags := append(targetFlags(), &cli.IntFlag{
		Name:  "limit",
		Usage: "Stop after this many records",
	})
	return &cli.Command{
		Name:      "dump",
		Usage:     "Dump a tree in ascending order",
		ArgsUsage: "<root-expr> <type> <entry-field>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			req, err := inspect.ParseRequest(c.Args().Slice())
			if err != nil {
				return err
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.target.Close()

			res, err := s.insp.Run(c.Context, req)
			if err != nil {
				return describe(err)
			}
			return inspect.NewFormatter(s.format).Format(c.App.Writer, res)
		},
	}
}

func replCommand() *cli.Command {
	return &cli.Command{
		Name:  "repl",
		Usage: "Browse trees interactively",
		Flags: targetFlags(),
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			// the REPL closes the target on quit
			return debugger.NewCLI(s.insp, debugger.CLIOptions{
				In:     c.App.Reader,
				Out:    c.App.Writer,
				Target: s.target.closer,
				Format: s.format,
			}).Start(c.Context)
		},
	}
}

func offsetsCommand() *cli.Command {
	return &cli.Command{
		Name:      "offsets",
		Usage:     "Print the symbols of an offsets header",
		ArgsUsage: "[header]",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				path = cfg.Offsets
			}
			if path == "" {
				return errors.New("no offsets header given and none configured")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			syms, err := layout.ParseOffsetHeader(f)
			if err != nil {
				return err
			}
			for _, name := range syms.Names() {
				fmt.Fprintf(c.App.Writer, "%-32s %d\n", name, syms[name])
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(c *cli.Context) error {
			switch inspect.Format(c.String("output")) {
			case inspect.FormatJSON:
				return json.NewEncoder(c.App.Writer).Encode(version.Get())
			case inspect.FormatYAML:
				return yaml.NewEncoder(c.App.Writer).Encode(version.Get())
			default:
				fmt.Fprintln(c.App.Writer, version.GetVersionInfo())
				return nil
			}
		},
	}
}

// describe spells a rejected declared type the way the REPL does.
func describe(err error) error {
	var tm *record.TypeMismatchError
	if errors.As(err, &tm) {
		return fmt.Errorf("expected pointer argument of type %s, node: %s", tm.Want, tm.Got)
	}
	return err
}
