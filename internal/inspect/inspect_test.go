package inspect

import (
	"strings"
	"testing"
)

func roots() []Root {
	return []Root{
		{Device: "/dev/sda1", Format: "installed", OSType: "linux", Distro: "rhel"},
		{Device: "/dev/sda2", Format: "installed", OSType: "windows", Distro: "windows"},
		{Device: "/dev/sda3", Format: "unknown"},
	}
}

func TestSelectRootSingleMultiboot(t *testing.T) {
	_, err := SelectRoot(RootPolicy{Kind: PolicySingle}, roots(), nil, nil)
	if err == nil {
		t.Fatal("expected error for multi-boot under Single policy")
	}
}

func TestSelectRootFirst(t *testing.T) {
	r, err := SelectRoot(RootPolicy{Kind: PolicyFirst}, roots(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Device != "/dev/sda1" {
		t.Errorf("got %q, want /dev/sda1", r.Device)
	}
}

func TestSelectRootDev(t *testing.T) {
	r, err := SelectRoot(RootPolicy{Kind: PolicyDev, Dev: "/dev/sda2"}, roots(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.OSType != "windows" {
		t.Errorf("got %q, want windows", r.OSType)
	}
}

func TestSelectRootDevMissing(t *testing.T) {
	_, err := SelectRoot(RootPolicy{Kind: PolicyDev, Dev: "/dev/sdz9"}, roots(), nil, nil)
	if err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestSelectRootAsk(t *testing.T) {
	in := strings.NewReader("2\n")
	var out strings.Builder
	r, err := SelectRoot(RootPolicy{Kind: PolicyAsk}, roots(), in, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.OSType != "windows" {
		t.Errorf("got %q, want windows", r.OSType)
	}
}

func TestSelectRootAskQuit(t *testing.T) {
	in := strings.NewReader("quit\n")
	var out strings.Builder
	_, err := SelectRoot(RootPolicy{Kind: PolicyAsk}, roots(), in, &out)
	if err == nil {
		t.Fatal("expected error on quit")
	}
}

func TestSelectRootNoInstalled(t *testing.T) {
	_, err := SelectRoot(RootPolicy{Kind: PolicyFirst}, []Root{{Format: "unknown"}}, nil, nil)
	if err == nil {
		t.Fatal("expected error when no installed root exists")
	}
}

func TestSortMountpoints(t *testing.T) {
	mps := []Mountpoint{
		{Path: "/boot/efi"},
		{Path: "/"},
		{Path: "/boot"},
		{Path: "/var/lib/data"},
	}
	SortMountpoints(mps)
	want := []string{"/", "/boot", "/boot/efi", "/var/lib/data"}
	for i, w := range want {
		if mps[i].Path != w {
			t.Errorf("mps[%d] = %q, want %q", i, mps[i].Path, w)
		}
	}
}

func TestNTFSUnsafeStateHint(t *testing.T) {
	err := errString("mount failed: NTFS partition is in an unsafe state, refused to mount")
	hint, ok := NTFSUnsafeStateHint(err)
	if !ok {
		t.Fatal("expected hint to trigger")
	}
	if !strings.Contains(hint, "Hibernation") {
		t.Errorf("hint = %q, want mention of Hibernation", hint)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
