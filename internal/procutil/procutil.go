// Package procutil wraps child-process invocation the way
// mantle/system/exec does: a thin interface over os/exec so the rest of
// the pipeline (copy engine, block-data supervisor, inspector) can be
// tested against a fake Runner instead of shelling out to real tools like
// qemu-img, nbdkit, guestfish, or ssh.
package procutil

import (
	"context"
	"os/exec"
	"sync"
	"syscall"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "procutil")

// Cmd is the subset of *exec.Cmd the pipeline needs, mirroring
// mantle/system/exec.Cmd.
type Cmd interface {
	CombinedOutput() ([]byte, error)
	Output() ([]byte, error)
	Run() error
	Start() error
	Wait() error
	Kill() error
	Pid() int
}

// Runner constructs Cmds. Production code uses Exec; tests substitute a
// fake that records invocations.
type Runner interface {
	Command(name string, arg ...string) Cmd
	CommandContext(ctx context.Context, name string, arg ...string) Cmd
}

// Exec is the production Runner, backed by os/exec.
var Exec Runner = execRunner{}

type execRunner struct{}

func (execRunner) Command(name string, arg ...string) Cmd {
	return CommandContext(context.Background(), name, arg...)
}

func (execRunner) CommandContext(ctx context.Context, name string, arg ...string) Cmd {
	return CommandContext(ctx, name, arg...)
}

// ExecCmd adapts *exec.Cmd to the Cmd interface, same shape as
// mantle/system/exec.ExecCmd (cancel-backed Kill, Wait-once semantics).
type ExecCmd struct {
	*exec.Cmd
	cancel context.CancelFunc
	wait   sync.Once
	err    error
}

// Command starts an ExecCmd bound to context.Background().
func Command(name string, arg ...string) *ExecCmd {
	return CommandContext(context.Background(), name, arg...)
}

// CommandContext is like Command but bound to ctx; cancelling ctx kills
// the child.
func CommandContext(ctx context.Context, name string, arg ...string) *ExecCmd {
	ctx, cancel := context.WithCancel(ctx)
	return &ExecCmd{Cmd: exec.CommandContext(ctx, name, arg...), cancel: cancel}
}

func (c *ExecCmd) Wait() error {
	c.wait.Do(func() { c.err = c.Cmd.Wait() })
	return c.err
}

// Kill is safe to call on an already-dead process.
func (c *ExecCmd) Kill() error {
	c.cancel()
	err := c.Wait()
	if err == nil {
		return nil
	}
	if eerr, ok := err.(*exec.ExitError); ok {
		if status, ok := eerr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGKILL {
			return nil
		}
	}
	return err
}

func (c *ExecCmd) Pid() int {
	if c.Process == nil {
		return -1
	}
	return c.Process.Pid
}

// Run runs name with args to completion, logging the invocation at debug
// level and wrapping a failure with the captured combined output, which is
// the "captured stderr from the failing external command" §7 mentions in
// user-visible failure behaviour.
func Run(r Runner, name string, arg ...string) ([]byte, error) {
	plog.Debugf("running: %s %v", name, arg)
	cmd := r.Command(name, arg...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &RunError{Name: name, Args: arg, Output: out, Err: err}
	}
	return out, nil
}

// RunError carries the captured output of a failing external command.
type RunError struct {
	Name   string
	Args   []string
	Output []byte
	Err    error
}

func (e *RunError) Error() string {
	return e.Name + ": " + e.Err.Error() + ": " + string(e.Output)
}

func (e *RunError) Unwrap() error { return e.Err }
