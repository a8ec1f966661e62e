package overlay

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
)

func TestLetterSequence(t *testing.T) {
	cases := map[int]string{0: "sda", 1: "sdb", 25: "sdz", 26: "sdaa", 27: "sdab"}
	for i, want := range cases {
		if got := letter(i); got != want {
			t.Errorf("letter(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestParseVirtualSize(t *testing.T) {
	out := []byte(`{"virtual-size": 10485760, "filename": "x.qcow2"}`)
	got, err := parseVirtualSize(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10485760 {
		t.Errorf("got %d, want 10485760", got)
	}
}

func TestCreateOverlays(t *testing.T) {
	r := procutil.NewFakeRunner()
	r.Responses["qemu-img"] = procutil.FakeResponse{Output: []byte(`{"virtual-size": 2048}`)}
	e := New(r, t.TempDir(), false)

	disks := []source.Disk{
		{ID: 0, URI: "file:///tmp/a.img", Format: "raw"},
		{ID: 1, URI: "file:///tmp/b.img"},
	}
	overlays, err := e.Create(disks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overlays) != 2 {
		t.Fatalf("got %d overlays, want 2", len(overlays))
	}
	if overlays[0].Letter != "sda" || overlays[1].Letter != "sdb" {
		t.Errorf("letters = %s, %s", overlays[0].Letter, overlays[1].Letter)
	}
	for _, ov := range overlays {
		if !ov.HasBacking {
			t.Errorf("overlay %s: HasBacking = false", ov.Path)
		}
	}
}

func TestParseListenPID(t *testing.T) {
	pid, err := parseListenPID([]byte("GUESTFISH_PID=4242; export GUESTFISH_PID\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != "4242" {
		t.Errorf("got %q, want 4242", pid)
	}
}

func TestParseListenPIDMalformed(t *testing.T) {
	if _, err := parseListenPID([]byte("garbage")); err == nil {
		t.Fatal("expected error for malformed listen output")
	}
}
