package input

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/source"
)

func TestResolveDisksFile(t *testing.T) {
	raw := []libvirtxml.ParsedDisk{{Type: "file", File: "rel/disk.img", Bus: "virtio", Format: "raw"}}
	disks := ResolveDisks(raw, func(p string) string { return "/base/" + p })
	if len(disks) != 1 {
		t.Fatalf("got %d disks", len(disks))
	}
	if disks[0].URI != "/base/rel/disk.img" {
		t.Errorf("uri = %q", disks[0].URI)
	}
	if disks[0].Controller != source.ControllerVirtioBlk {
		t.Errorf("controller = %q", disks[0].Controller)
	}
}

func TestResolveDisksBlockAndNetwork(t *testing.T) {
	raw := []libvirtxml.ParsedDisk{
		{Type: "block", Dev: "/dev/sda", Bus: "ide"},
		{Type: "network", Protocol: "rbd", Host: "ceph1", Volume: "pool/img", Bus: "scsi"},
		{Type: "volume", Pool: "default", Volume: "vol1"},
	}
	disks := ResolveDisks(raw, nil)
	if disks[0].URI != "/dev/sda" || disks[0].Controller != source.ControllerIDE {
		t.Errorf("block disk: %+v", disks[0])
	}
	if disks[1].URI != "rbd://ceph1/pool/img" || disks[1].Controller != source.ControllerSCSI {
		t.Errorf("network disk: %+v", disks[1])
	}
	if disks[2].URI != "vol:default/vol1" {
		t.Errorf("volume disk: %+v", disks[2])
	}
}

func TestLibvirtPluginAsOptionsDefaultURI(t *testing.T) {
	p := &LibvirtPlugin{GuestName: "web1"}
	if got := p.AsOptions(); got != "libvirt:qemu:///system,guest=web1" {
		t.Errorf("got %q", got)
	}
}

func TestLibvirtPluginAsOptionsExplicitURI(t *testing.T) {
	p := &LibvirtPlugin{ConnectURI: "qemu+ssh://host/system", GuestName: "web1"}
	if got := p.AsOptions(); got != "libvirt:qemu+ssh://host/system,guest=web1" {
		t.Errorf("got %q", got)
	}
}
