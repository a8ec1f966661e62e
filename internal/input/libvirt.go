package input

import (
	"context"
	"fmt"
	"net"

	"github.com/coreos/pkg/capnslog"
	"github.com/digitalocean/go-libvirt"
	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "input")

// LibvirtPlugin is the §4.1 "Libvirt (generic)" input: given an optional
// connection URI and a guest name, fetch the domain XML over the libvirt
// RPC protocol and parse it per §6.2. Rejects a running domain.
type LibvirtPlugin struct {
	ConnectURI string // empty means qemu:///system
	GuestName  string

	// Dial opens the libvirt RPC transport; overridden by tests.
	Dial func(uri string) (net.Conn, error)
}

func (p *LibvirtPlugin) AsOptions() string {
	uri := p.ConnectURI
	if uri == "" {
		uri = "qemu:///system"
	}
	return fmt.Sprintf("libvirt:%s,guest=%s", uri, p.GuestName)
}

func (p *LibvirtPlugin) Source(ctx context.Context) (*source.Source, error) {
	xmlDesc, err := p.fetchDomainXML(ctx)
	if err != nil {
		return nil, err
	}

	parsed, err := libvirtxml.Parse(xmlDesc)
	if err != nil {
		return nil, errors.Wrap(err, "input.LibvirtPlugin: parsing domain XML")
	}
	if parsed.HostdevCount > 0 {
		plog.Warningf("guest %q: %d passthrough device(s) will be dropped", p.GuestName, parsed.HostdevCount)
	}

	parsed.Source.OrigName = parsed.Source.Name
	parsed.Source.Disks = ResolveDisks(parsed.RawDisks, nil)
	if err := parsed.Source.Validate(); err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin", err)
	}
	return parsed.Source, nil
}

// fetchDomainXML connects, rejects a running domain, and returns the raw
// domain document. Shared with VDDKPlugin, which needs the document's
// <vmware:moref> and raw disk list before it spawns nbdkit.
func (p *LibvirtPlugin) fetchDomainXML(ctx context.Context) ([]byte, error) {
	uri := p.ConnectURI
	if uri == "" {
		uri = "qemu:///system"
	}

	dial := p.Dial
	if dial == nil {
		dial = defaultLibvirtDial
	}
	conn, err := dial(uri)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin: dialing "+uri, err)
	}
	defer conn.Close()

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin: connecting to "+uri, err)
	}
	defer l.Disconnect()

	dom, err := l.DomainLookupByName(p.GuestName)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin: looking up domain "+p.GuestName, err)
	}

	state, _, err := l.DomainGetState(dom, 0)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin: fetching domain state", err)
	}
	if libvirt.DomainState(state) == libvirt.DomainRunning {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin",
			fmt.Errorf("domain %q is running; stop it before conversion", p.GuestName))
	}

	xmlDesc, err := l.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.LibvirtPlugin: fetching domain XML", err)
	}
	return []byte(xmlDesc), nil
}

func defaultLibvirtDial(uri string) (net.Conn, error) {
	return net.Dial("unix", "/var/run/libvirt/libvirt-sock")
}
