package input

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/supervisor"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// VDDKParams are the nbdkit vddk plugin's connection parameters (§4.2,
// §4.1's Libvirt+VDDK augmentation).
type VDDKParams struct {
	LibDir     string // path to the VDDK library distribution
	Server     string // vCenter/ESXi host
	Thumbprint string
	Password   supervisor.Password
	Snapshot   string // optional vCenter snapshot moref
}

// VDDKPlugin wraps LibvirtPlugin, requiring <vmware:moref> and rewriting
// each disk URI to a per-disk nbdkit vddk instance's NBD socket.
type VDDKPlugin struct {
	Libvirt *LibvirtPlugin
	Params  VDDKParams
	Sup     *supervisor.Supervisor

	// fetchXML lets tests substitute the libvirt XML fetch + parse step
	// without a real libvirt connection.
	fetchXML func(ctx context.Context) (*libvirtxml.Parsed, error)
}

func (p *VDDKPlugin) AsOptions() string {
	return p.Libvirt.AsOptions() + ",transport=vddk"
}

const minLibvirtForVDDK = "libvirt ≥ 3.7"

func (p *VDDKPlugin) Source(ctx context.Context) (*source.Source, error) {
	fetch := p.fetchXML
	if fetch == nil {
		fetch = p.fetchAndParse
	}
	parsed, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if parsed.Moref == "" {
		return nil, verrors.New(verrors.InputError, "input.VDDKPlugin",
			fmt.Errorf("domain has no <vmware:moref>; VDDK transport requires %s", minLibvirtForVDDK))
	}

	src := parsed.Source
	src.OrigName = src.Name
	disks := make([]source.Disk, 0, len(parsed.RawDisks))
	for i, raw := range parsed.RawDisks {
		params := supervisor.Params{
			"vm":         "moref=" + parsed.Moref,
			"server":     p.Params.Server,
			"thumbprint": p.Params.Thumbprint,
			"file":       raw.File,
		}
		if p.Params.LibDir != "" {
			params["libdir"] = p.Params.LibDir
		}
		if p.Params.Snapshot != "" {
			params["snapshot"] = p.Params.Snapshot
		}
		inst, err := p.Sup.Start(ctx, "vddk", params, p.Params.Password)
		if err != nil {
			return nil, verrors.New(verrors.InputError, fmt.Sprintf("input.VDDKPlugin: starting nbdkit for disk %d", i), err)
		}
		disks = append(disks, source.Disk{ID: i, URI: inst.QemuURI, Format: "raw"})
	}
	src.Disks = disks
	if err := src.Validate(); err != nil {
		return nil, verrors.New(verrors.InputError, "input.VDDKPlugin", err)
	}
	return src, nil
}

func (p *VDDKPlugin) fetchAndParse(ctx context.Context) (*libvirtxml.Parsed, error) {
	xmlDesc, err := p.Libvirt.fetchDomainXML(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := libvirtxml.Parse(xmlDesc)
	if err != nil {
		return nil, errors.Wrap(err, "input.VDDKPlugin: parsing domain XML")
	}
	return parsed, nil
}
