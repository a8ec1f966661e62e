package linux

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
)

func TestPlanCleanupXen(t *testing.T) {
	plan := PlanCleanup(source.HypervisorXen)
	if len(plan.Packages) == 0 || len(plan.Modules) == 0 {
		t.Fatalf("expected a non-empty Xen cleanup plan, got %+v", plan)
	}
}

func TestPlanCleanupKVMIsEmpty(t *testing.T) {
	plan := PlanCleanup(source.HypervisorKVM)
	if len(plan.Packages) != 0 {
		t.Errorf("expected empty cleanup plan for KVM source, got %+v", plan)
	}
}

func TestRemoveCleanupPackagesUnknownManager(t *testing.T) {
	r := &procutil.FakeRunner{}
	err := RemoveCleanupPackages(r, "apk", PlanCleanup(source.HypervisorXen))
	if err == nil {
		t.Fatal("expected an error for an unsupported package manager")
	}
}

func TestRemoveCleanupPackagesNoop(t *testing.T) {
	r := &procutil.FakeRunner{}
	if err := RemoveCleanupPackages(r, "rpm", HypervisorCleanup{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Calls) != 0 {
		t.Errorf("expected no calls, got %v", r.Calls)
	}
}

func TestRemoveCleanupPackagesRPM(t *testing.T) {
	r := &procutil.FakeRunner{Responses: map[string]procutil.FakeResponse{
		"rpm": {Err: nil},
	}}
	if err := RemoveCleanupPackages(r, "rpm", PlanCleanup(source.HypervisorVMware)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Calls) != 1 || r.Calls[0].Name != "rpm" {
		t.Errorf("got %v", r.Calls)
	}
}

func TestRegenerateInitramfsDracut(t *testing.T) {
	r := &procutil.FakeRunner{}
	support := DriverSupport{InitramfsTool: InitramfsDracut, Kernels: []string{"5.14.0-70.el9"}}
	if err := RegenerateInitramfs(r, support); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Calls) != 1 || r.Calls[0].Name != "dracut" {
		t.Errorf("got %v", r.Calls)
	}
}

func TestRegenerateInitramfsNone(t *testing.T) {
	r := &procutil.FakeRunner{}
	support := DriverSupport{InitramfsTool: InitramfsNone, Kernels: []string{"5.14.0-70.el9"}}
	if err := RegenerateInitramfs(r, support); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Calls) != 0 {
		t.Errorf("expected no regeneration calls, got %v", r.Calls)
	}
}

func TestRewriteRootDeviceUUIDStable(t *testing.T) {
	entry := BootEntry{RootArg: "root=UUID=abcd-1234", DiskIdentAttr: "UUID=abcd-1234"}
	got := RewriteRootDevice(entry, "/dev/vda1")
	if got != entry.RootArg {
		t.Errorf("expected UUID root to stay stable, got %q", got)
	}
}

func TestRewriteRootDeviceBIOSRewritten(t *testing.T) {
	entry := BootEntry{RootArg: "root=/dev/sda1", DiskIdentAttr: "/dev/sda1"}
	got := RewriteRootDevice(entry, "/dev/vda1")
	if got != "root=/dev/vda1" {
		t.Errorf("got %q, want root=/dev/vda1", got)
	}
}

func TestConvertCapabilities(t *testing.T) {
	r := &procutil.FakeRunner{}
	support := DriverSupport{
		VirtioBlockAvailable: true,
		VirtioNetAvailable:   true,
		BalloonAvailable:     true,
	}
	caps, err := Convert(r, source.HypervisorXen, "rpm", support, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps.BlockBus != source.BlockVirtioBlk || caps.NetBus != source.NetVirtio || !caps.VirtioBalloon {
		t.Errorf("got %+v", caps)
	}
}

func TestConvertFallsBackToIDE(t *testing.T) {
	r := &procutil.FakeRunner{}
	caps, err := Convert(r, source.HypervisorVMware, "rpm", DriverSupport{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps.BlockBus != source.BlockIDE || caps.NetBus != source.NetRTL {
		t.Errorf("got %+v", caps)
	}
}
