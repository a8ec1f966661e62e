package windows

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/hive"
)

type bcdFakeNode struct {
	values map[string][]byte
	deleted []string
}

func (n *bcdFakeNode) SetValue(name string, typ int, data []byte) error {
	if n.values == nil {
		n.values = map[string][]byte{}
	}
	n.values[name] = data
	return nil
}
func (n *bcdFakeNode) DeleteValue(name string) error {
	n.deleted = append(n.deleted, name)
	delete(n.values, name)
	return nil
}
func (n *bcdFakeNode) GetValue(name string) ([]byte, bool, error) {
	v, ok := n.values[name]
	return v, ok, nil
}

type bcdFakeHive struct {
	nodes map[string]*bcdFakeNode
}

func newBCDFakeHive() *bcdFakeHive { return &bcdFakeHive{nodes: map[string]*bcdFakeNode{}} }

func (h *bcdFakeHive) Node(path []string) (hive.Node, error) {
	key := ""
	for _, p := range path {
		key += "/" + p
	}
	n, ok := h.nodes[key]
	if !ok {
		n = &bcdFakeNode{}
		h.nodes[key] = n
	}
	return n, nil
}

func (h *bcdFakeHive) Commit() error { return nil }

func TestBCDDisplayOrderEntries(t *testing.T) {
	h := newBCDFakeHive()
	node, _ := h.Node([]string{"Objects", bcdBootMgrGUID, "Elements", bcdDisplayOrder})
	node.SetValue("", int(hive.REG_MULTI_SZ), hive.EncodeMultiSZ([]string{"{guid-a}", "{guid-b}"}))

	entries, err := BCDDisplayOrderEntries(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].GUID != "{guid-a}" || entries[1].GUID != "{guid-b}" {
		t.Errorf("got %v", entries)
	}
}

func TestBCDDisplayOrderEntriesMissing(t *testing.T) {
	h := newBCDFakeHive()
	entries, err := BCDDisplayOrderEntries(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil, got %v", entries)
	}
}

func TestBCDRemoveDeviceElementEdits(t *testing.T) {
	h := newBCDFakeHive()
	node, _ := h.Node([]string{"Objects", "{guid-a}", "Elements", bcdDeviceElement})
	node.SetValue("", int(hive.REG_BINARY), []byte{1, 2, 3})

	edits := BCDRemoveDeviceElementEdits([]BCDEntry{{GUID: "{guid-a}"}})
	if err := hive.Apply(h, edits); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := node.GetValue(""); ok {
		t.Error("expected device element value to be deleted")
	}
}
