// Package copyengine implements §4.8: trim-then-convert disk copy from the
// overlay sandbox into the output plugin's provisioned targets.
package copyengine

import (
	"os"
	"syscall"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/overlay"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "copyengine")

// DiskCreateParams mirrors §4.9's disk_create(path, format, size,
// ?preallocation, ?compat, ?backing_file, ?backing_format, ?cluster_size).
type DiskCreateParams struct {
	Path            string
	Format          string
	Size            uint64
	Preallocation   string // "", "off", "metadata", "falloc", "full"
	Compat          string // "1.1" or "0.10", qcow2 only
	BackingFile     string
	BackingFormat   string
	ClusterSize     uint64
}

// TargetProvisioner is the narrow surface this package needs from an
// output plugin (§4.9): create the destination blob with exact
// parameters.
type TargetProvisioner interface {
	DiskCreate(params DiskCreateParams) error
}

// CopyResult carries the per-target diagnostics §4.8 asks for.
type CopyResult struct {
	Target        *source.Target
	StartUnixNano int64
	EndUnixNano   int64
	ActualSize    uint64
}

// noTrimFilesystems is the set of filesystem types fstrim is skipped for,
// either because trim is meaningless (swap, non-extent-based) or unsafe.
var noTrimFilesystems = map[string]bool{
	"swap": true, "vfat": true,
}

// Trim runs fstrim against every mounted, trim-capable filesystem in the
// sandbox, then unmounts, shuts down and exits it. Trim failures are
// logged and tolerated; not every guest filesystem driver in the
// appliance supports FITRIM.
func Trim(sb *overlay.Sandbox, mountpoints []string, fsTypes map[string]string) {
	for _, mp := range mountpoints {
		if noTrimFilesystems[fsTypes[mp]] {
			continue
		}
		if _, err := sb.Run("fstrim", mp); err != nil {
			plog.Warningf("fstrim %s: %v", mp, err)
		}
	}
	if err := sb.Unmount(); err != nil {
		plog.Warningf("cleanup: unmount-all: %v", err)
	}
	sb.Shutdown()
}

// clockFunc gives tests a way to control timestamps without calling
// time.Now/Date (disallowed in orchestration scripts); production callers
// pass time.Now().UnixNano.
type clockFunc func() int64

// CopyOne provisions one target via the output plugin then runs
// qemu-img convert, recording start/end timestamps and measuring the
// actual on-disk size of the resulting file.
func CopyOne(r procutil.Runner, plugin TargetProvisioner, target *source.Target, params DiskCreateParams, now clockFunc) (CopyResult, error) {
	start := now()
	if err := plugin.DiskCreate(params); err != nil {
		return CopyResult{}, verrors.New(verrors.OutputError, "copyengine.CopyOne: disk_create", err)
	}

	args := []string{"convert", "-n", "-f", "qcow2", "-O", params.Format, target.Overlay.Path, target.Location}
	if _, err := procutil.Run(r, "qemu-img", args...); err != nil {
		return CopyResult{}, verrors.New(verrors.CopyError, "copyengine.CopyOne: qemu-img convert", err)
	}
	end := now()

	actual, err := measureActualSize(target.Location)
	if err != nil {
		plog.Warningf("measuring actual size of %s: %v", target.Location, err)
	} else {
		target.ActualSize = actual
		target.HasActual = true
	}

	if target.HasEstimate && target.HasActual {
		diagEstimateVsActual(target)
	}

	return CopyResult{Target: target, StartUnixNano: start, EndUnixNano: end, ActualSize: target.ActualSize}, nil
}

// measureActualSize is the `du --block-size=1` equivalent §4.8 specifies:
// blocks actually allocated on disk, not apparent file size.
func measureActualSize(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return uint64(fi.Size()), nil
	}
	return uint64(st.Blocks) * 512, nil
}

func diagEstimateVsActual(t *source.Target) {
	if t.EstimatedSize == 0 {
		return
	}
	delta := int64(t.ActualSize) - int64(t.EstimatedSize)
	pct := float64(delta) / float64(t.EstimatedSize) * 100
	plog.Infof("target %s: estimated %d bytes, actual %d bytes (%.1f%%)", t.Location, t.EstimatedSize, t.ActualSize, pct)
}

// CopyAll runs CopyOne for every target, in order, applying §4.8's
// all-or-nothing failure policy: the first failure aborts the remaining
// copies. On any failure it returns an error and leaves DeleteOnExit set
// on every target so the at-exit cleanup hook removes them; on full
// success it clears DeleteOnExit on all of them.
func CopyAll(r procutil.Runner, plugin TargetProvisioner, plans []CopyPlan, now clockFunc) ([]CopyResult, error) {
	var results []CopyResult
	for _, p := range plans {
		p.Target.DeleteOnExit = true
	}
	for _, p := range plans {
		res, err := CopyOne(r, plugin, p.Target, p.Params, now)
		if err != nil {
			return results, errors.Wrapf(err, "copying target %s", p.Target.Location)
		}
		results = append(results, res)
	}
	for _, p := range plans {
		p.Target.DeleteOnExit = false
	}
	return results, nil
}

// CopyPlan pairs a target with the disk_create parameters the output
// plugin should use for it.
type CopyPlan struct {
	Target *source.Target
	Params DiskCreateParams
}
