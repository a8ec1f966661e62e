package libvirtxml

import (
	"strings"
	"testing"

	"github.com/virtconv/virt2kvm/internal/source"
)

const sampleDomain = `<?xml version="1.0"?>
<domain type="vmware">
  <name>testguest</name>
  <memory unit="KiB">2097152</memory>
  <vcpu>2</vcpu>
  <features><acpi/><apic/></features>
  <cpu>
    <vendor>Intel</vendor>
    <model>Haswell</model>
    <topology sockets="1" cores="2" threads="1"/>
  </cpu>
  <devices>
    <graphics type="vnc" port="5900">
      <listen type="address" address="127.0.0.1"/>
    </graphics>
    <video><model type="cirrus"/></video>
    <sound model="ich6"/>
    <controller type="scsi" model="virtio-scsi"/>
    <disk type="file">
      <source file="/var/lib/libvirt/images/testguest.img"/>
      <driver type="aio"/>
      <target bus="ide" dev="hda"/>
    </disk>
    <interface type="bridge">
      <mac address="52:54:00:aa:bb:cc"/>
      <model type="e1000"/>
      <source bridge=""/>
    </interface>
  </devices>
</domain>`

func TestParseBasics(t *testing.T) {
	p, err := Parse([]byte(sampleDomain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := p.Source
	if s.Name != "testguest" {
		t.Errorf("name = %q", s.Name)
	}
	if s.MemoryBytes != 2097152*1024 {
		t.Errorf("memory = %d", s.MemoryBytes)
	}
	if s.VCPUs != 2 {
		t.Errorf("vcpu = %d", s.VCPUs)
	}
	if s.Hypervisor != source.HypervisorVMware {
		t.Errorf("hypervisor = %q", s.Hypervisor)
	}
	if s.Topology == nil || s.Topology.Sockets != 1 || s.Topology.Cores != 2 {
		t.Errorf("topology = %+v", s.Topology)
	}
	if s.Display == nil || s.Display.Type != source.DisplayVNC || s.Display.Port != 5900 {
		t.Errorf("display = %+v", s.Display)
	}
	if s.Display.Listen != source.ListenAddress || s.Display.Address != "127.0.0.1" {
		t.Errorf("listen = %+v", s.Display)
	}
	if !s.HasVideo || s.Video != source.VideoCirrus {
		t.Errorf("video = %v %v", s.HasVideo, s.Video)
	}
	if !s.HasSound || s.Sound != source.SoundICH6 {
		t.Errorf("sound = %v %v", s.HasSound, s.Sound)
	}
	if !p.HasVirtioSCSIController {
		t.Error("expected virtio-scsi controller to be detected")
	}
	if len(p.RawDisks) != 1 || p.RawDisks[0].Format != "raw" {
		t.Errorf("disks = %+v", p.RawDisks)
	}
	if len(s.NICs) != 1 || s.NICs[0].MAC != "52:54:00:aa:bb:cc" {
		t.Errorf("nics = %+v", s.NICs)
	}
	if s.NICs[0].Vnet != "eth0" {
		t.Errorf("expected empty bridge source to map to eth0, got %q", s.NICs[0].Vnet)
	}
}

func TestParseZeroMACNormalized(t *testing.T) {
	doc := strings.Replace(sampleDomain, "52:54:00:aa:bb:cc", "00:00:00:00:00:00", 1)
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Source.NICs[0].MAC != "" {
		t.Errorf("expected zero MAC to be normalized away, got %q", p.Source.NICs[0].MAC)
	}
}

func TestParseIgnoresUnsupportedDiskType(t *testing.T) {
	doc := `<domain type="kvm">
  <name>g</name><memory unit="KiB">1024</memory><vcpu>1</vcpu>
  <devices>
    <disk type="dir"><source dir="/x"/></disk>
  </devices>
</domain>`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.RawDisks) != 0 {
		t.Errorf("expected unsupported disk type to be dropped, got %v", p.RawDisks)
	}
}
