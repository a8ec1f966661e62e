package output

import (
	"fmt"
	"net"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// LibvirtPoolPlugin is the §4.9 "Libvirt pool" output: writes into the
// path backing a libvirt directory-type storage pool, then refreshes the
// pool and defines the domain. Grounded on the same go-libvirt call
// sequence as internal/input/libvirt.go.
type LibvirtPoolPlugin struct {
	ConnectURI string
	PoolName   string
	Format     string
	RunnerRef  procutil.Runner

	Dial func(uri string) (net.Conn, error)

	poolPath string
}

func (p *LibvirtPoolPlugin) AsOptions() string {
	return fmt.Sprintf("libvirtpool:%s,pool=%s", p.ConnectURI, p.PoolName)
}

func (p *LibvirtPoolPlugin) SupportedFirmware() []source.Firmware {
	return []source.Firmware{source.FirmwareBIOS, source.FirmwareUEFI}
}

func (p *LibvirtPoolPlugin) InstallRhevApt() bool   { return false }
func (p *LibvirtPoolPlugin) KeepSerialConsole() bool { return true }

func (p *LibvirtPoolPlugin) dial() (*libvirt.Libvirt, error) {
	uri := p.ConnectURI
	if uri == "" {
		uri = "qemu:///system"
	}
	dial := p.Dial
	if dial == nil {
		dial = func(string) (net.Conn, error) { return net.Dial("unix", "/var/run/libvirt/libvirt-sock") }
	}
	conn, err := dial(uri)
	if err != nil {
		return nil, err
	}
	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		return nil, err
	}
	return l, nil
}

func (p *LibvirtPoolPlugin) Precheck() error {
	l, err := p.dial()
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: connecting", err)
	}
	defer l.Disconnect()

	pool, err := l.StoragePoolLookupByName(p.PoolName)
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: looking up pool "+p.PoolName, err)
	}
	xmlDesc, err := l.StoragePoolGetXMLDesc(pool, 0)
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: fetching pool XML", err)
	}
	path, err := poolTargetPath(xmlDesc)
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin", err)
	}
	p.poolPath = path
	return nil
}

func (p *LibvirtPoolPlugin) PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error) {
	if p.poolPath == "" {
		if err := p.Precheck(); err != nil {
			return nil, err
		}
	}
	format := formatOrDefault(p.Format)
	ext := ".qcow2"
	if format == "raw" {
		ext = ".img"
	}
	targets := make([]*source.Target, len(overlays))
	for i, ov := range overlays {
		targets[i] = &source.Target{
			Location: fmt.Sprintf("%s/%s-sd%d%s", p.poolPath, src.Name, i, ext),
			Format:   format, Overlay: ov,
		}
	}
	return targets, nil
}

func (p *LibvirtPoolPlugin) CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error {
	return nil
}

func (p *LibvirtPoolPlugin) DiskCreate(params copyengine.DiskCreateParams) error {
	return qemuImgCreate(p.RunnerRef, params)
}

// CreateMetadata refreshes the pool (so libvirt notices the new volumes)
// and defines the domain from the rendered document.
func (p *LibvirtPoolPlugin) CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error {
	l, err := p.dial()
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: connecting", err)
	}
	defer l.Disconnect()

	pool, err := l.StoragePoolLookupByName(p.PoolName)
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: looking up pool "+p.PoolName, err)
	}
	if err := l.StoragePoolRefresh(pool, 0); err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: refreshing pool", err)
	}

	disks := make(map[int]string, len(targets))
	for _, t := range targets {
		if t.Overlay != nil {
			disks[t.Overlay.SourceDisk] = t.Location
		}
	}
	doc, err := libvirtxml.Render(libvirtxml.RenderInput{Src: src, Caps: caps, Plan: buses, Disks: disks})
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: rendering domain XML", err)
	}
	if _, err := l.DomainDefineXML(string(doc)); err != nil {
		return verrors.New(verrors.OutputError, "output.LibvirtPoolPlugin: defining domain", err)
	}
	return nil
}

// poolTargetPath extracts /pool/target/path from a storage pool's XML
// description. A tiny hand-rolled scan rather than a full parse, since
// this is the one field the pool-path lookup needs.
func poolTargetPath(xmlDesc string) (string, error) {
	const open, closeTag = "<path>", "</path>"
	start := strings.Index(xmlDesc, open)
	if start < 0 {
		return "", fmt.Errorf("storage pool XML has no <path> element")
	}
	start += len(open)
	end := strings.Index(xmlDesc[start:], closeTag)
	if end < 0 {
		return "", fmt.Errorf("storage pool XML has unterminated <path> element")
	}
	return xmlDesc[start : start+end], nil
}
