package windows

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/hive"
)

type preFakeNode struct {
	values map[string][]byte
}

func (n *preFakeNode) SetValue(name string, typ int, data []byte) error {
	if n.values == nil {
		n.values = map[string][]byte{}
	}
	n.values[name] = data
	return nil
}
func (n *preFakeNode) DeleteValue(name string) error {
	delete(n.values, name)
	return nil
}
func (n *preFakeNode) GetValue(name string) ([]byte, bool, error) {
	v, ok := n.values[name]
	return v, ok, nil
}

type preFakeHive struct {
	nodes    map[string]*preFakeNode
	children map[string][]string
}

func newPreFakeHive() *preFakeHive {
	return &preFakeHive{nodes: map[string]*preFakeNode{}, children: map[string][]string{}}
}

func pathKey(path []string) string {
	key := ""
	for _, p := range path {
		key += "/" + p
	}
	return key
}

func (h *preFakeHive) Node(path []string) (hive.Node, error) {
	key := pathKey(path)
	n, ok := h.nodes[key]
	if !ok {
		n = &preFakeNode{}
		h.nodes[key] = n
	}
	return n, nil
}

func (h *preFakeHive) Children(path []string) ([]string, error) {
	key := pathKey(path)
	names, ok := h.children[key]
	if !ok {
		return nil, errKeyMissing(key)
	}
	return names, nil
}

func (h *preFakeHive) Commit() error { return nil }

type errKeyMissing string

func (e errKeyMissing) Error() string { return "no such key: " + string(e) }

func setSZ(h *preFakeHive, path []string, name, value string) {
	node, _ := h.Node(path)
	data, _, _ := hive.Encode(hive.Value{Type: hive.REG_SZ, SZ: value})
	node.SetValue(name, int(hive.REG_SZ), data)
}

func TestBuildPreInspectionGroupPolicy(t *testing.T) {
	software := newPreFakeHive()
	software.children[pathKey([]string{"Microsoft", "Windows", "CurrentVersion", "Group Policy", "History"})] =
		[]string{"{31B2F340-016D-11D2-945F-00C04FB984F9}"}

	pre, err := BuildPreInspection(software, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pre.GroupPolicyPresent {
		t.Error("expected GroupPolicyPresent true")
	}
}

func TestBuildPreInspectionNoGroupPolicyHistory(t *testing.T) {
	software := newPreFakeHive()

	pre, err := BuildPreInspection(software, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pre.GroupPolicyPresent {
		t.Error("expected GroupPolicyPresent false when History key is absent")
	}
}

func TestBuildPreInspectionXenUninstall(t *testing.T) {
	software := newPreFakeHive()
	uninstallPath := []string{"Microsoft", "Windows", "CurrentVersion", "Uninstall"}
	software.children[pathKey(uninstallPath)] = []string{xenUninstallKey}
	setSZ(software, append(uninstallPath, xenUninstallKey), "UninstallString", `C:\Program Files\Xen\uninst.exe`)

	pre, err := BuildPreInspection(software, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pre.XenUninstall == nil {
		t.Fatal("expected a Xen uninstall entry")
	}
	if pre.XenUninstall.Command != `C:\Program Files\Xen\uninst.exe` {
		t.Errorf("got %q", pre.XenUninstall.Command)
	}
}

func TestBuildPreInspectionParallelsTools(t *testing.T) {
	software := newPreFakeHive()
	uninstallPath := []string{"Microsoft", "Windows", "CurrentVersion", "Uninstall"}
	software.children[pathKey(uninstallPath)] = []string{"{ABCDEF00-0000-0000-0000-000000000000}"}
	key := append(uninstallPath, "{ABCDEF00-0000-0000-0000-000000000000}")
	setSZ(software, key, "DisplayName", "Parallels Tools")
	setSZ(software, key, "UninstallString", `C:\Program Files\Parallels\uninstall.exe`)

	pre, err := BuildPreInspection(software, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pre.ParallelsUninstalls) != 1 {
		t.Fatalf("got %d entries, want 1", len(pre.ParallelsUninstalls))
	}
	if pre.ParallelsUninstalls[0].DisplayName != "Parallels Tools" {
		t.Errorf("got %q", pre.ParallelsUninstalls[0].DisplayName)
	}
}

func TestBuildPreInspectionIgnoresUnrelatedUninstallEntries(t *testing.T) {
	software := newPreFakeHive()
	uninstallPath := []string{"Microsoft", "Windows", "CurrentVersion", "Uninstall"}
	software.children[pathKey(uninstallPath)] = []string{"{SOME-OTHER-APP}"}
	key := append(uninstallPath, "{SOME-OTHER-APP}")
	setSZ(software, key, "DisplayName", "Adobe Reader")
	setSZ(software, key, "UninstallString", `C:\Program Files\Adobe\uninstall.exe`)

	pre, err := BuildPreInspection(software, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pre.ParallelsUninstalls) != 0 {
		t.Errorf("expected no Parallels entries, got %v", pre.ParallelsUninstalls)
	}
	if !pre.AVPresent {
		t.Error("expected AVPresent to pass through unchanged")
	}
}

func TestBuildPreInspectionNoUninstallKey(t *testing.T) {
	software := newPreFakeHive()
	pre, err := BuildPreInspection(software, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pre.XenUninstall != nil || len(pre.ParallelsUninstalls) != 0 {
		t.Errorf("expected empty pre-inspection, got %+v", pre)
	}
}
