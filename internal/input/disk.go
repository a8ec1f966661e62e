package input

import (
	"context"
	"fmt"

	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// DiskPlugin is the §4.1 "Local disk" input: a single disk path with a
// declared or detected format.
type DiskPlugin struct {
	Path   string
	Format string // empty triggers detection via Detector
	Detector func(path string) (string, error)
}

const (
	defaultGuestMemoryBytes = 2048 * 1024 * 1024
	defaultGuestVCPUs       = 1
	defaultNetworkName      = "default"
)

func (p *DiskPlugin) AsOptions() string {
	if p.Format != "" {
		return fmt.Sprintf("disk:%s,format=%s", p.Path, p.Format)
	}
	return fmt.Sprintf("disk:%s", p.Path)
}

func (p *DiskPlugin) Source(ctx context.Context) (*source.Source, error) {
	format := p.Format
	if format == "" {
		if p.Detector == nil {
			return nil, verrors.New(verrors.InputError, "input.DiskPlugin.Source",
				fmt.Errorf("no format declared for %s and no detector configured", p.Path))
		}
		detected, err := p.Detector(p.Path)
		if err != nil {
			return nil, verrors.New(verrors.InputError, "input.DiskPlugin.Source: detecting format", err)
		}
		if detected == "unknown" || detected == "" {
			return nil, verrors.New(verrors.InputError, "input.DiskPlugin.Source",
				fmt.Errorf("could not determine disk format for %s", p.Path))
		}
		format = detected
	}

	return &source.Source{
		Name:        diskDefaultName(p.Path),
		MemoryBytes: defaultGuestMemoryBytes,
		VCPUs:       defaultGuestVCPUs,
		Hypervisor:  source.HypervisorOther,
		Disks: []source.Disk{
			{ID: 0, URI: p.Path, Format: format},
		},
		NICs: []source.NIC{
			{Model: source.NICRTL, VnetKind: source.VnetNetwork, Vnet: defaultNetworkName, OrigVnet: defaultNetworkName},
		},
	}, nil
}

func diskDefaultName(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
