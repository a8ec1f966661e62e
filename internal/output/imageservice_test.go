package output

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/source"
)

func TestNicModelName(t *testing.T) {
	cases := []struct {
		nics []source.NIC
		want string
	}{
		{nil, "virtio"},
		{[]source.NIC{{Model: source.NICE1000}}, "e1000"},
		{[]source.NIC{{Model: source.NICRTL}}, "rtl8139"},
		{[]source.NIC{{Model: source.NICVirtio}}, "virtio"},
		{[]source.NIC{{Model: source.NICOther}}, "virtio"},
	}
	for _, c := range cases {
		src := &source.Source{NICs: c.nics}
		if got := nicModelName(src); got != c.want {
			t.Errorf("nicModelName(%v) = %q, want %q", c.nics, got, c.want)
		}
	}
}

func TestOSTypeAndDistro(t *testing.T) {
	if got := osType(nil); got != "linux" {
		t.Errorf("osType(nil) = %q, want linux", got)
	}
	winResult := &inspect.Result{Windows: &inspect.Windows{}}
	if got := osType(winResult); got != "windows" {
		t.Errorf("osType(windows) = %q, want windows", got)
	}
	if got := osDistro(winResult); got != "windows" {
		t.Errorf("osDistro(windows) = %q, want windows", got)
	}
	linuxResult := &inspect.Result{PkgFormat: "rpm"}
	if got := osDistro(linuxResult); got != "rpm" {
		t.Errorf("osDistro(linux) = %q, want rpm", got)
	}
	if got := osDistro(nil); got != "" {
		t.Errorf("osDistro(nil) = %q, want empty", got)
	}
}
