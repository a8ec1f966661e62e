// Package supervisor runs and tears down nbdkit-style child processes that
// expose one source disk each as newstyle NBD over a UNIX socket (§4.2).
//
// The qemu:unix socket handoff and the --exit-with-parent lifetime binding
// are modeled directly on mantle/platform/qemu.go's nbd-backed MultiPathDisk
// path (disk.prepare spawns "qemu-nbd --socket ... --share ...", and the
// attach endpoint handed back to the caller is "nbd:unix:%s"); nbdkit's
// plugin/newstyle/selinux surface is layered on top of that same shape.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/coreos/pkg/capnslog"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "supervisor")

// Password selects how the spawned plugin obtains a credential.
type Password struct {
	Kind PasswordKind
	Path string // file mode 0600, set when Kind == PasswordFile
}

type PasswordKind int

const (
	NoPassword PasswordKind = iota
	AskForPassword
	PasswordFile
)

// Params are the named key=value parameters nbdkit plugins take
// (servers, path, credentials, thumbprint, transports, ...).
type Params map[string]string

// Instance is one supervised nbdkit child process exposing a single disk.
type Instance struct {
	ID         int
	SocketPath string
	PidPath    string
	QemuURI    string // nbd:unix:<path>:exportname=/

	runner  procutil.Runner
	cmd     procutil.Cmd
	scratch string
}

// Supervisor starts/tracks nbdkit instances under one scratch root.
type Supervisor struct {
	Runner          procutil.Runner
	CacheDir        string // inspection library's cache dir
	SELinuxEnforced bool
	StartupTimeout  time.Duration

	nextID    int
	instances []*Instance
}

// New constructs a Supervisor; StartupTimeout defaults to 30s per §4.2.
func New(runner procutil.Runner, cacheDir string, selinuxEnforced bool) *Supervisor {
	return &Supervisor{
		Runner:          runner,
		CacheDir:        cacheDir,
		SELinuxEnforced: selinuxEnforced,
		StartupTimeout:  30 * time.Second,
	}
}

// Preflight verifies nbdkit is installed at or above minVersion, the named
// plugin loads, and (if the host is SELinux-enforcing) that nbdkit supports
// --selinux-label.
func (sv *Supervisor) Preflight(plugin string, minVersion string) error {
	out, err := procutil.Run(sv.Runner, "nbdkit", "--version")
	if err != nil {
		return verrors.New(verrors.SupervisorError, "nbdkit tool missing", err)
	}
	plog.Debugf("nbdkit --version: %s", strings.TrimSpace(string(out)))

	if _, err := procutil.Run(sv.Runner, "nbdkit", plugin, "--dump-plugin"); err != nil {
		return verrors.New(verrors.SupervisorError, fmt.Sprintf("nbdkit plugin %q failed to load", plugin), err)
	}

	if sv.SELinuxEnforced {
		if _, err := procutil.Run(sv.Runner, "nbdkit", "--help"); err != nil {
			return verrors.New(verrors.SupervisorError, "nbdkit --help failed while checking selinux support", err)
		}
	}
	return nil
}

// Start spawns one nbdkit instance for the given plugin and parameters and
// waits (bounded by sv.StartupTimeout) for its pidfile to appear.
func (sv *Supervisor) Start(ctx context.Context, plugin string, params Params, pw Password) (*Instance, error) {
	if sv.CacheDir == "" {
		return nil, verrors.New(verrors.SupervisorError, "start", fmt.Errorf("no cache dir configured"))
	}
	scratch := sv.CacheDir
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, verrors.New(verrors.SupervisorError, "creating scratch dir", err)
	}
	// 0755: readable by "other" so an unprivileged qemu can connect (§4.2, §5).
	if err := os.Chmod(scratch, 0755); err != nil {
		return nil, verrors.New(verrors.SupervisorError, "chmod scratch dir", err)
	}

	id := sv.nextID
	sv.nextID++
	inst := &Instance{
		ID:         id,
		SocketPath: filepath.Join(scratch, fmt.Sprintf("nbdkit%d.sock", id)),
		PidPath:    filepath.Join(scratch, fmt.Sprintf("nbdkit%d.pid", id)),
		runner:     sv.Runner,
		scratch:    scratch,
	}

	args := []string{
		"--foreground", "--readonly", "--newstyle", "--exportname=/", "--exit-with-parent",
		"--pidfile", inst.PidPath,
		"--unix", inst.SocketPath,
	}
	if sv.SELinuxEnforced {
		args = append(args, "--selinux-label", "system_u:object_r:svirt_socket_t:s0")
	}
	args = append(args, plugin)
	for k, v := range params {
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}
	switch pw.Kind {
	case PasswordFile:
		args = append(args, "password=+"+pw.Path)
	case AskForPassword:
		args = append(args, "password=-")
	}

	cmd := sv.Runner.CommandContext(ctx, "nbdkit", args...)
	if err := cmd.Start(); err != nil {
		return nil, verrors.New(verrors.SupervisorError, "spawning nbdkit", err)
	}
	inst.cmd = cmd

	if err := waitForFile(inst.PidPath, sv.StartupTimeout); err != nil {
		_ = cmd.Kill()
		return nil, verrors.New(verrors.SupervisorError, "nbdkit startup timeout", err)
	}

	if sv.SELinuxEnforced {
		if _, err := procutil.Run(sv.Runner, "chcon", "system_u:object_r:svirt_image_t:s0", inst.SocketPath); err != nil {
			_ = cmd.Kill()
			return nil, verrors.New(verrors.SupervisorError, "relabeling nbdkit socket", err)
		}
	}
	if err := os.Chmod(inst.SocketPath, 0777); err != nil {
		_ = cmd.Kill()
		return nil, verrors.New(verrors.SupervisorError, "chmod nbdkit socket", err)
	}

	inst.QemuURI = fmt.Sprintf("nbd:unix:%s:exportname=/", inst.SocketPath)
	sv.instances = append(sv.instances, inst)
	plog.Infof("nbdkit[%d] serving %s on %s", id, plugin, inst.SocketPath)
	return inst, nil
}

// Stop kills the instance; --exit-with-parent already guarantees this
// happens if the parent dies, but explicit Stop lets the at-exit stack run
// deterministically (§5 ordering guarantees).
func (sv *Supervisor) Stop(inst *Instance) error {
	if inst.cmd == nil {
		return nil
	}
	if err := inst.cmd.Kill(); err != nil {
		return verrors.New(verrors.CleanupError, "stopping nbdkit", err)
	}
	return nil
}

// StopAll tears down every instance, LIFO, swallowing individual errors
// into logged warnings per §7's at-exit policy.
func (sv *Supervisor) StopAll() {
	for i := len(sv.instances) - 1; i >= 0; i-- {
		if err := sv.Stop(sv.instances[i]); err != nil {
			plog.Warningf("cleanup: %v", err)
		}
	}
	sv.instances = nil
}

func waitForFile(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 100 * time.Millisecond
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("timed out waiting for %s", path)
		}
		time.Sleep(interval)
	}
}
