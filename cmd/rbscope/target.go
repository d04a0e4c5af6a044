package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/willibrandon/rbscope/pkg/config"
	"github.com/willibrandon/rbscope/pkg/debugger"
	"github.com/willibrandon/rbscope/pkg/image"
	"github.com/willibrandon/rbscope/pkg/inspect"
	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/procmem"
)

// target is an opened memory source and the resolver that goes with it.
type target struct {
	mem      *memory.Reader
	resolver inspect.Resolver
	// closer is nil for images
	closer io.Closer
}

// Close releases the target
func (t *target) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// openTarget opens the single target selected on the command line. Images
// and live processes have no debug information, so their root expressions
// resolve through the configured symbols; Delve sessions evaluate them.
func openTarget(c *cli.Context, cfg *config.Config, logger *slog.Logger) (*target, error) {
	var selected []string
	for _, name := range []string{"image", "pid", "pid-of", "dlv", "attach", "core"} {
		if c.IsSet(name) {
			selected = append(selected, "--"+name)
		}
	}
	switch len(selected) {
	case 0:
		return nil, errors.New("no target: use one of --image, --pid, --pid-of, --dlv, --attach or --core")
	case 1:
	default:
		return nil, fmt.Errorf("more than one target: %v", selected)
	}

	switch {
	case c.IsSet("image"):
		return openImage(c.String("image"), cfg, logger)
	case c.IsSet("pid"):
		return openProcess(c.Int("pid"), cfg, logger)
	case c.IsSet("pid-of"):
		pid, err := procmem.FindPid(c.String("pid-of"))
		if err != nil {
			return nil, err
		}
		logger.Debug("process found", "name", c.String("pid-of"), "pid", pid)
		return openProcess(pid, cfg, logger)
	case c.IsSet("dlv"):
		d, err := debugger.Connect(c.Context, c.String("dlv"), c.Duration("dlv-timeout"), logger)
		if err != nil {
			return nil, err
		}
		return delveTarget(d, cfg)
	case c.IsSet("attach"):
		d, err := debugger.Launch(c.Context, debugger.LaunchConfig{
			Mode:           debugger.ModeAttach,
			Target:         strconv.Itoa(c.Int("attach")),
			DlvPath:        c.String("dlv-path"),
			ConnectTimeout: c.Duration("dlv-timeout"),
		}, logger)
		if err != nil {
			return nil, err
		}
		return delveTarget(d, cfg)
	default:
		if !c.IsSet("exe") {
			return nil, errors.New("--core needs --exe")
		}
		d, err := debugger.Launch(c.Context, debugger.LaunchConfig{
			Mode:           debugger.ModeCore,
			Target:         c.String("exe"),
			Core:           c.String("core"),
			DlvPath:        c.String("dlv-path"),
			ConnectTimeout: c.Duration("dlv-timeout"),
		}, logger)
		if err != nil {
			return nil, err
		}
		return delveTarget(d, cfg)
	}
}

func openImage(path string, cfg *config.Config, logger *slog.Logger) (*target, error) {
	img, err := image.LoadFile(path, image.LoadOptions{CacheRegions: cfg.Image.CacheRegions})
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}
	if img.Arch() != cfg.Arch() {
		logger.Warn("image architecture differs from target config, using the image's",
			"image_pointer_size", img.Arch().PointerSize, "config_pointer_size", cfg.Target.PointerSize)
	}
	mem, err := img.Reader()
	if err != nil {
		return nil, err
	}
	res, err := cfg.Resolver()
	if err != nil {
		return nil, err
	}
	logger.Debug("image loaded", "path", path, "regions", len(img.Regions()))
	return &target{mem: mem, resolver: res}, nil
}

func openProcess(pid int, cfg *config.Config, logger *slog.Logger) (*target, error) {
	res, err := cfg.Resolver()
	if err != nil {
		return nil, err
	}
	p, err := procmem.Open(pid, logger)
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewReader(p, cfg.Target.PointerSize, cfg.ByteOrder())
	if err != nil {
		p.Close()
		return nil, err
	}
	return &target{mem: mem, resolver: res, closer: p}, nil
}

func delveTarget(d *debugger.DelveTarget, cfg *config.Config) (*target, error) {
	mem, err := memory.NewReader(d, cfg.Target.PointerSize, cfg.ByteOrder())
	if err != nil {
		d.Close()
		return nil, err
	}
	return &target{mem: mem, resolver: d, closer: d}, nil
}
