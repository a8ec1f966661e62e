package libvirtxml

import (
	"strings"
	"testing"

	"github.com/virtconv/virt2kvm/internal/source"
)

func TestRenderBasics(t *testing.T) {
	src := &source.Source{
		Name:        "converted",
		MemoryBytes: 2 * 1024 * 1024 * 1024,
		VCPUs:       2,
		Firmware:    source.FirmwareBIOS,
		Disks:       []source.Disk{{ID: 0, URI: "x"}},
		NICs:        []source.NIC{{MAC: "52:54:00:11:22:33", VnetKind: source.VnetBridge, Vnet: "br0"}},
	}
	plan := &source.BusPlan{IDE: []source.BusSlot{{Kind: source.SlotDisk, DiskID: 0}}}
	caps := source.Capabilities{BlockBus: source.BlockIDE, NetBus: source.NetE1000, Video: source.VideoCirrus, ACPI: true, Arch: "x86_64", Machine: source.MachineI440FX}

	out, err := Render(RenderInput{Src: src, Caps: caps, Plan: plan, Disks: map[int]string{0: "/tmp/d/converted-sda"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := string(out)
	for _, want := range []string{
		`type="kvm"`, `<name>converted</name>`,
		`machine="i440fxhvm"`, `<acpi></acpi>`, `<apic></apic>`, `<pae></pae>`,
		`bus="ide"`, `dev="hda"`, `/tmp/d/converted-sda`,
		`type="virtio-net"`,
		// not secure boot: no smm
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "<smm") {
		t.Error("expected no smm element without secure boot")
	}
}

func TestRenderSecureBootForcesSMM(t *testing.T) {
	src := &source.Source{
		Name: "secured", MemoryBytes: 1024 * 1024 * 1024, VCPUs: 1,
		Firmware: source.FirmwareUEFI, SecureBoot: true,
		Disks: []source.Disk{{ID: 0, URI: "x"}},
	}
	plan := &source.BusPlan{VirtioBlk: []source.BusSlot{{Kind: source.SlotDisk, DiskID: 0}}}
	caps := source.Capabilities{BlockBus: source.BlockVirtioBlk, NetBus: source.NetVirtio, Machine: source.MachineQ35}
	out, err := Render(RenderInput{Src: src, Caps: caps, Plan: plan, Disks: map[int]string{0: "/tmp/d/secured-sda"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := string(out)
	if !strings.Contains(doc, "<smm></smm>") {
		t.Errorf("expected smm element, got:\n%s", doc)
	}
	if !strings.Contains(doc, `type="pflash"`) {
		t.Errorf("expected UEFI loader, got:\n%s", doc)
	}
	if !strings.Contains(doc, `bus="virtio"`) || !strings.Contains(doc, `dev="vda"`) {
		t.Errorf("expected virtio disk bus/dev, got:\n%s", doc)
	}
}

func TestRenderUnknownDiskErrors(t *testing.T) {
	src := &source.Source{Name: "g", MemoryBytes: 1024, VCPUs: 1, Disks: []source.Disk{{ID: 0, URI: "x"}}}
	plan := &source.BusPlan{IDE: []source.BusSlot{{Kind: source.SlotDisk, DiskID: 5}}}
	_, err := Render(RenderInput{Src: src, Caps: source.Capabilities{}, Plan: plan, Disks: map[int]string{}})
	if err == nil {
		t.Fatal("expected an error for a bus plan referencing an unknown disk")
	}
}
