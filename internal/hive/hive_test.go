package hive

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeREG_SZ(t *testing.T) {
	data, typ, err := Encode(Value{Type: REG_SZ, SZ: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != int(REG_SZ) {
		t.Errorf("type = %d, want %d", typ, REG_SZ)
	}
	want := []byte{'h', 0, 'i', 0, 0, 0}
	if !bytes.Equal(data, want) {
		t.Errorf("data = %v, want %v", data, want)
	}
}

func TestEncodeREG_DWORD(t *testing.T) {
	data, _, err := Encode(Value{Type: REG_DWORD, DW: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binary.LittleEndian.Uint32(data) != 4 {
		t.Errorf("got %v", data)
	}
}

func TestMultiSZRoundTrip(t *testing.T) {
	in := []string{"prl_strg", "", "other_filter"}
	encoded := EncodeMultiSZ(in)
	decoded := DecodeMultiSZ(encoded, false)
	if len(decoded) != 3 || decoded[0] != "prl_strg" || decoded[1] != "" || decoded[2] != "other_filter" {
		t.Errorf("got %v", decoded)
	}

	decodedDropped := DecodeMultiSZ(encoded, true)
	if len(decodedDropped) != 2 {
		t.Errorf("got %v, want empty entries dropped", decodedDropped)
	}
}

func TestRemoveFromMultiSZ(t *testing.T) {
	in := []string{"prl_strg", "other_filter", "", "prl_strg"}
	out := RemoveFromMultiSZ(in, "prl_strg")
	if len(out) != 1 || out[0] != "other_filter" {
		t.Errorf("got %v", out)
	}
}

func TestAppendToExpandSZPath(t *testing.T) {
	got := AppendToExpandSZPath(`%SystemRoot%\System32`, `;%SystemRoot%\Drivers\VirtIO`)
	want := `%SystemRoot%\System32;%SystemRoot%\Drivers\VirtIO`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// already present: no change.
	again := AppendToExpandSZPath(got, `;%SystemRoot%\Drivers\VirtIO`)
	if again != got {
		t.Errorf("expected idempotent append, got %q", again)
	}
}

type fakeNode struct {
	values map[string][]byte
	types  map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{values: map[string][]byte{}, types: map[string]int{}}
}

func (n *fakeNode) SetValue(name string, typ int, data []byte) error {
	n.values[name] = data
	n.types[name] = typ
	return nil
}
func (n *fakeNode) DeleteValue(name string) error {
	delete(n.values, name)
	return nil
}
func (n *fakeNode) GetValue(name string) ([]byte, bool, error) {
	v, ok := n.values[name]
	return v, ok, nil
}

type fakeHive struct {
	nodes     map[string]*fakeNode
	committed bool
}

func newFakeHive() *fakeHive { return &fakeHive{nodes: map[string]*fakeNode{}} }

func (h *fakeHive) Node(path []string) (Node, error) {
	key := ""
	for _, p := range path {
		key += "/" + p
	}
	n, ok := h.nodes[key]
	if !ok {
		n = newFakeNode()
		h.nodes[key] = n
	}
	return n, nil
}

func (h *fakeHive) Commit() error {
	h.committed = true
	return nil
}

func TestApply(t *testing.T) {
	h := newFakeHive()
	edits := []Edit{
		{
			Path:   []string{"Services", "rhelscsi"},
			Values: []Value{{Name: "Start", Type: REG_DWORD, DW: 4}},
		},
	}
	if err := Apply(h, edits); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.committed {
		t.Error("expected hive to be committed")
	}
	n := h.nodes["/Services/rhelscsi"]
	if n == nil {
		t.Fatal("expected node to be created")
	}
	v, ok, _ := n.GetValue("Start")
	if !ok || binary.LittleEndian.Uint32(v) != 4 {
		t.Errorf("got %v", v)
	}
}
