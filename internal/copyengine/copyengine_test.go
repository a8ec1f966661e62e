package copyengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
)

type fakePlugin struct {
	created []DiskCreateParams
	failOn  string
}

func (p *fakePlugin) DiskCreate(params DiskCreateParams) error {
	p.created = append(p.created, params)
	return nil
}

func sequentialClock() clockFunc {
	n := int64(0)
	return func() int64 {
		n++
		return n
	}
}

func TestCopyOneRecordsActualSize(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "target.qcow2")
	if err := os.WriteFile(dest, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &procutil.FakeRunner{}
	plugin := &fakePlugin{}
	target := &source.Target{
		Location: dest,
		Format:   "qcow2",
		Overlay:  &source.Overlay{Path: filepath.Join(dir, "overlay.qcow2")},
	}
	params := DiskCreateParams{Path: dest, Format: "qcow2", Size: 1024}

	res, err := CopyOne(r, plugin, target, params, sequentialClock())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plugin.created) != 1 {
		t.Fatalf("expected disk_create to be called once, got %d", len(plugin.created))
	}
	if len(r.Calls) != 1 || r.Calls[0].Name != "qemu-img" {
		t.Errorf("got %v", r.Calls)
	}
	if !target.HasActual || target.ActualSize == 0 {
		t.Errorf("expected actual size to be measured, got %+v", target)
	}
	if res.EndUnixNano < res.StartUnixNano {
		t.Errorf("end %d before start %d", res.EndUnixNano, res.StartUnixNano)
	}
}

func TestCopyAllAbortsOnFailure(t *testing.T) {
	dir := t.TempDir()
	r := &procutil.FakeRunner{Responses: map[string]procutil.FakeResponse{
		"qemu-img": {Err: errTest{}},
	}}
	plugin := &fakePlugin{}
	t1 := &source.Target{Location: filepath.Join(dir, "a.qcow2"), Overlay: &source.Overlay{Path: "ov-a"}}
	t2 := &source.Target{Location: filepath.Join(dir, "b.qcow2"), Overlay: &source.Overlay{Path: "ov-b"}}
	plans := []CopyPlan{{Target: t1, Params: DiskCreateParams{Path: t1.Location}}, {Target: t2, Params: DiskCreateParams{Path: t2.Location}}}

	_, err := CopyAll(r, plugin, plans, sequentialClock())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !t1.DeleteOnExit || !t2.DeleteOnExit {
		t.Error("expected both targets to remain marked DeleteOnExit after a failure")
	}
}

func TestCopyAllClearsDeleteOnExitOnSuccess(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "a.qcow2")
	os.WriteFile(dest, []byte("x"), 0644)
	r := &procutil.FakeRunner{}
	plugin := &fakePlugin{}
	target := &source.Target{Location: dest, Overlay: &source.Overlay{Path: "ov-a"}}
	plans := []CopyPlan{{Target: target, Params: DiskCreateParams{Path: dest}}}

	if _, err := CopyAll(r, plugin, plans, sequentialClock()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.DeleteOnExit {
		t.Error("expected DeleteOnExit to be cleared after a fully successful run")
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
