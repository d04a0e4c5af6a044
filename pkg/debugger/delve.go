// Package debugger reads trees out of a program running under Delve.
//
// DelveTarget talks to a headless Delve server over its JSON-RPC API. It
// implements memory.Accessor with ExamineMemory and inspect.Resolver with
// EvalVariable, so the same tree walk used for images and live processes
// works against anything Delve can attach to.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/willibrandon/rbscope/pkg/inspect"
	"github.com/willibrandon/rbscope/pkg/memory"
)

// maxExamine is the largest read Delve serves in one ExamineMemory call.
const maxExamine = 1000

// Mode selects how Launch starts Delve.
type Mode string

const (
	ModeAttach Mode = "attach"
	ModeCore   Mode = "core"
	ModeExec   Mode = "exec"
)

// LaunchConfig describes a Delve server to start.
type LaunchConfig struct {
	Mode Mode
	// Target is a pid for attach, an executable for core and exec.
	Target string
	// Core is the core file for ModeCore.
	Core string
	// Args are passed to the program for ModeExec.
	Args []string
	// DlvPath defaults to "dlv" on PATH.
	DlvPath string
	// ConnectTimeout bounds how long to wait for the server. Defaults to 10s.
	ConnectTimeout time.Duration
}

// DelveTarget wraps a Delve RPC client session and, when it started one,
// the dlv process behind it.
type DelveTarget struct {
	client    *rpc2.RPCClient
	dlvCmd    *exec.Cmd // nil when connected to an existing server
	dlvListen string
	logger    *slog.Logger
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// DefaultConnectTimeout bounds how long Connect and Launch wait for a server.
const DefaultConnectTimeout = 10 * time.Second

// Connect attaches to a headless Delve server already listening on addr,
// giving up after timeout (DefaultConnectTimeout when zero).
func Connect(ctx context.Context, addr string, timeout time.Duration, logger *slog.Logger) (*DelveTarget, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := dial(dctx, addr)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to delve", "addr", addr)
	return &DelveTarget{client: client, dlvListen: addr, logger: logger}, nil
}

// Launch starts "dlv <mode> --headless" for cfg and connects to it.
func Launch(ctx context.Context, cfg LaunchConfig, logger *slog.Logger) (*DelveTarget, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cmdArgs, err := launchArgs(cfg)
	if err != nil {
		return nil, err
	}

	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free port for delve: %w", err)
	}
	listen := "localhost:" + strconv.Itoa(port)
	cmdArgs = append(cmdArgs,
		"--headless",
		"--listen="+listen,
		"--api-version=2",
		"--accept-multiclient",
	)
	if cfg.Mode == ModeExec && len(cfg.Args) > 0 {
		cmdArgs = append(cmdArgs, "--")
		cmdArgs = append(cmdArgs, cfg.Args...)
	}

	dlv := cfg.DlvPath
	if dlv == "" {
		dlv = "dlv"
	}
	dlvCmd := exec.Command(dlv, cmdArgs...)
	setupProcAttr(dlvCmd)
	if err := dlvCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start delve process: %w", err)
	}
	logger.Info("started delve headless server", "mode", cfg.Mode, "target", cfg.Target, "listen", listen, "pid", dlvCmd.Process.Pid)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := dial(dctx, listen)
	if err != nil {
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, err
	}
	return &DelveTarget{client: client, dlvCmd: dlvCmd, dlvListen: listen, logger: logger}, nil
}

func launchArgs(cfg LaunchConfig) ([]string, error) {
	switch cfg.Mode {
	case ModeAttach:
		if _, err := strconv.Atoi(cfg.Target); err != nil {
			return nil, fmt.Errorf("attach needs a pid, got %q", cfg.Target)
		}
		return []string{"attach", cfg.Target}, nil
	case ModeCore:
		if cfg.Target == "" || cfg.Core == "" {
			return nil, errors.New("core needs an executable and a core file")
		}
		exe, err := filepath.Abs(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for target %s: %w", cfg.Target, err)
		}
		return []string{"core", exe, cfg.Core}, nil
	case ModeExec:
		exe, err := filepath.Abs(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for target %s: %w", cfg.Target, err)
		}
		return []string{"exec", exe}, nil
	default:
		return nil, fmt.Errorf("unknown delve mode %q", cfg.Mode)
	}
}

// dial retries until the server accepts a connection and answers GetState.
// rpc2.NewClient exits the process on a failed dial, so the connection is
// made here and handed to NewClientFromConn.
func dial(ctx context.Context, addr string) (*rpc2.RPCClient, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			// a listener that never answers must not outlive ctx
			if deadline, ok := ctx.Deadline(); ok {
				_ = conn.SetDeadline(deadline)
			}
			client := rpc2.NewClientFromConn(conn)
			if _, err = client.GetState(); err == nil {
				_ = conn.SetDeadline(time.Time{})
				return client, nil
			}
			_ = conn.Close()
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect RPC client to delve server at %s: %w", addr, err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Addr returns the address of the Delve server
func (d *DelveTarget) Addr() string {
	return d.dlvListen
}

// ReadMemory implements memory.Accessor. Reads larger than Delve serves at
// once are split.
func (d *DelveTarget) ReadMemory(ctx context.Context, addr memory.Address, size int) ([]byte, error) {
	if d.client == nil {
		return nil, &memory.AccessError{Addr: addr, Size: size, Err: errors.New("delve session closed")}
	}
	out := make([]byte, 0, size)
	for len(out) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(size-len(out), maxExamine)
		at := addr.Add(int64(len(out)))
		b, _, err := d.client.ExamineMemory(uint64(at), n)
		if err != nil {
			return nil, &memory.AccessError{Addr: at, Size: n, Err: err}
		}
		if len(b) < n {
			return nil, &memory.AccessError{Addr: at, Size: n, Err: fmt.Errorf("%w: short read of %d bytes", memory.ErrUnmapped, len(b))}
		}
		out = append(out, b[:n]...)
	}
	return out, nil
}

// Resolve implements inspect.Resolver. A pointer expression resolves to the
// address it holds; its type is rewritten from Delve's *T into C's "T *".
func (d *DelveTarget) Resolve(ctx context.Context, expr string) (inspect.Symbol, error) {
	if d.client == nil {
		return inspect.Symbol{}, errors.New("delve session closed")
	}
	if err := ctx.Err(); err != nil {
		return inspect.Symbol{}, err
	}
	scope := api.EvalScope{GoroutineID: -1, Frame: 0}
	cfg := api.LoadConfig{
		FollowPointers:     true,
		MaxVariableRecurse: 0,
		MaxStringLen:       0,
		MaxArrayValues:     0,
		MaxStructFields:    0,
	}
	v, err := d.client.EvalVariable(scope, expr, cfg)
	if err != nil {
		return inspect.Symbol{}, fmt.Errorf("failed to evaluate expression '%s': %w", expr, err)
	}
	if v.Unreadable != "" {
		return inspect.Symbol{}, fmt.Errorf("expression '%s' is unreadable: %s", expr, v.Unreadable)
	}
	return symbolOf(v), nil
}

func symbolOf(v *api.Variable) inspect.Symbol {
	sym := inspect.Symbol{Addr: memory.Address(v.Addr), Type: cType(v.Type)}
	if v.Kind != reflect.Ptr {
		return sym
	}
	sym.Addr = memory.Null
	if len(v.Children) > 0 {
		sym.Addr = memory.Address(v.Children[0].Addr)
	}
	return sym
}

// cType turns Delve's "*struct _thrdb_tree" into "struct _thrdb_tree *".
func cType(t string) string {
	t = strings.TrimSpace(t)
	if strings.HasPrefix(t, "*") {
		return strings.TrimSpace(cType(t[1:]) + " *")
	}
	return t
}

// Halt stops a running target so memory reads see a quiescent state.
func (d *DelveTarget) Halt() error {
	if d.client == nil {
		return errors.New("delve session closed")
	}
	_, err := d.client.Halt()
	return err
}

// Close disconnects and, if Launch started dlv, terminates it.
func (d *DelveTarget) Close() error {
	var closeErr error
	if d.client != nil {
		if err := d.client.Disconnect(false); err != nil {
			closeErr = fmt.Errorf("failed to disconnect delve client: %w", err)
		}
		d.client = nil
	}
	if d.dlvCmd != nil && d.dlvCmd.Process != nil {
		pid := d.dlvCmd.Process.Pid
		if err := d.dlvCmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			closeErr = fmt.Errorf("failed to kill delve process: %w", err)
		}
		if _, err := d.dlvCmd.Process.Wait(); err != nil && !isWaitAlreadyExited(err) && closeErr == nil {
			closeErr = fmt.Errorf("failed to wait for delve process: %w", err)
		}
		d.logger.Info("delve process terminated", "pid", pid)
		d.dlvCmd = nil
	}
	return closeErr
}

// isWaitAlreadyExited reports a Wait on a process that was already reaped.
func isWaitAlreadyExited(err error) bool {
	if errors.Is(err, syscall.ECHILD) {
		return true
	}
	var e *exec.ExitError
	if errors.As(err, &e) {
		if status, ok := e.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus() == -1
		}
	}
	return false
}
