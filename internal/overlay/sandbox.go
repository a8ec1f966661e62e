package overlay

import (
	"fmt"
	"strings"

	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// Sandbox is a disposable guestfish instance with every overlay attached
// read-write, caching=unsafe, discard=besteffort, copyonread=yes (§4.3).
// Wraps the guestfish "--listen"/"--remote=PID" remote protocol the same
// way mantle/platform/qemu.go's coreosGuestfish does.
type Sandbox struct {
	runner procutil.Runner
	remote string
}

// Launch starts guestfish in listen mode and attaches every overlay.
func Launch(runner procutil.Runner, overlays []*source.Overlay) (*Sandbox, error) {
	args := []string{"--listen"}
	for _, ov := range overlays {
		args = append(args, "-a", ov.Path,
			"--cache=unsafe", "--discard=besteffort", "--copy-on-read")
	}
	out, err := procutil.Run(runner, "guestfish", args...)
	if err != nil {
		return nil, verrors.New(verrors.OverlayError, "launching guestfish sandbox", err)
	}
	pid, err := parseListenPID(out)
	if err != nil {
		return nil, verrors.New(verrors.OverlayError, "parsing guestfish listen output", err)
	}
	sb := &Sandbox{runner: runner, remote: fmt.Sprintf("--remote=%s", pid)}
	if _, err := procutil.Run(runner, "guestfish", sb.remote, "run"); err != nil {
		return nil, verrors.New(verrors.OverlayError, "launching guestfish appliance", err)
	}
	return sb, nil
}

// parseListenPID parses guestfish --listen's
// "GUESTFISH_PID=1234; export GUESTFISH_PID" announcement.
func parseListenPID(out []byte) (string, error) {
	parts := strings.SplitN(string(out), ";", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unexpected guestfish --listen output: %q", out)
	}
	kv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(kv) != 2 || kv[0] != "GUESTFISH_PID" {
		return "", fmt.Errorf("unexpected guestfish --listen output: %q", out)
	}
	return kv[1], nil
}

// Run issues one guestfish remote command.
func (sb *Sandbox) Run(args ...string) ([]byte, error) {
	full := append([]string{sb.remote}, args...)
	return procutil.Run(sb.runner, "guestfish", full...)
}

// Unmount unmounts everything mounted in the sandbox.
func (sb *Sandbox) Unmount() error {
	_, err := sb.Run("umount-all")
	return err
}

// Shutdown tells the appliance to shut down cleanly and exits guestfish.
func (sb *Sandbox) Shutdown() {
	if _, err := sb.Run("shutdown"); err != nil {
		plog.Warningf("cleanup: sandbox shutdown: %v", err)
	}
	if _, err := sb.Run("exit"); err != nil {
		plog.Warningf("cleanup: sandbox exit: %v", err)
	}
}
