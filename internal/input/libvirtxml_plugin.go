package input

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// LibvirtXMLPlugin is the §4.1 "Libvirt XML" input: a domain document read
// from a local file, with relative disk paths resolved against the
// document's own directory.
type LibvirtXMLPlugin struct {
	Path string

	// ReadFile is overridden by tests.
	ReadFile func(path string) ([]byte, error)
}

func (p *LibvirtXMLPlugin) AsOptions() string {
	return "libvirtxml:" + p.Path
}

func (p *LibvirtXMLPlugin) Source(ctx context.Context) (*source.Source, error) {
	readFile := p.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	data, err := readFile(p.Path)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtXMLPlugin: reading "+p.Path, err)
	}

	parsed, err := libvirtxml.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "input.LibvirtXMLPlugin: parsing "+p.Path)
	}
	if parsed.HostdevCount > 0 {
		plog.Warningf("%s: %d passthrough device(s) will be dropped", p.Path, parsed.HostdevCount)
	}

	baseDir := filepath.Dir(p.Path)
	parsed.Source.OrigName = parsed.Source.Name
	parsed.Source.Disks = ResolveDisks(parsed.RawDisks, func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(baseDir, path)
	})
	if err := parsed.Source.Validate(); err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtXMLPlugin", err)
	}
	return parsed.Source, nil
}
