package hive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/virtconv/virt2kvm/internal/overlay"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// GuestfishHive implements HiveHandle against a running sandbox's hivex
// binding (guestfish's hivex-open/hivex-node-*/hivex-commit remote
// commands), the "guest-filesystem library" this package's HiveHandle
// interface was written to stay narrow enough to sit in front of.
type GuestfishHive struct {
	sb       *overlay.Sandbox
	rootNode string
	write    bool
}

// OpenGuestfishHive runs hivex-open against the given in-sandbox path.
func OpenGuestfishHive(sb *overlay.Sandbox, path string) (*GuestfishHive, error) {
	if _, err := sb.Run("hivex-open", "--write", path); err != nil {
		return nil, verrors.New(verrors.ConversionError, "hivex-open "+path, err)
	}
	rootOut, err := sb.Run("hivex-root")
	if err != nil {
		return nil, verrors.New(verrors.ConversionError, "hivex-root "+path, err)
	}
	return &GuestfishHive{sb: sb, rootNode: strings.TrimSpace(string(rootOut)), write: true}, nil
}

func (h *GuestfishHive) Node(path []string) (Node, error) {
	node := h.rootNode
	for _, component := range path {
		child, err := h.findOrCreateChild(node, component)
		if err != nil {
			return nil, err
		}
		node = child
	}
	return &guestfishNode{sb: h.sb, handle: node}, nil
}

// Children walks path without creating missing keys, then lists the
// names of its immediate children via hivex-node-children/hivex-node-name.
func (h *GuestfishHive) Children(path []string) ([]string, error) {
	node := h.rootNode
	for _, component := range path {
		out, err := h.sb.Run("hivex-node-get-child", node, component)
		if err != nil {
			return nil, verrors.New(verrors.ConversionError, "hivex-node-get-child "+component, err)
		}
		child := strings.TrimSpace(string(out))
		if child == "" || child == "0" {
			return nil, verrors.New(verrors.ConversionError, "hivex children", fmt.Errorf("key %q not found", component))
		}
		node = child
	}
	out, err := h.sb.Run("hivex-node-children", node)
	if err != nil {
		return nil, verrors.New(verrors.ConversionError, "hivex-node-children", err)
	}
	var names []string
	for _, handle := range strings.Fields(string(out)) {
		nameOut, err := h.sb.Run("hivex-node-name", handle)
		if err != nil {
			continue
		}
		names = append(names, strings.TrimSpace(string(nameOut)))
	}
	return names, nil
}

func (h *GuestfishHive) findOrCreateChild(parent, name string) (string, error) {
	out, err := h.sb.Run("hivex-node-get-child", parent, name)
	if err == nil {
		child := strings.TrimSpace(string(out))
		if child != "" && child != "0" {
			return child, nil
		}
	}
	out, err = h.sb.Run("hivex-node-add-child", parent, name)
	if err != nil {
		return "", verrors.New(verrors.ConversionError, fmt.Sprintf("hivex-node-add-child %s/%s", parent, name), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (h *GuestfishHive) Commit() error {
	if _, err := h.sb.Run("hivex-commit", ""); err != nil {
		return verrors.New(verrors.ConversionError, "hivex-commit", err)
	}
	return nil
}

type guestfishNode struct {
	sb     *overlay.Sandbox
	handle string
}

// SetValue calls hivex-node-set-values with a single-entry list, the
// format guestfish's remote protocol expects: count, then
// key:type:value-spec triples.
func (n *guestfishNode) SetValue(name string, typ int, data []byte) error {
	spec := fmt.Sprintf("%s:%d:0x%x", name, typ, data)
	_, err := n.sb.Run("hivex-node-set-values", n.handle, "1", spec)
	if err != nil {
		return verrors.New(verrors.ConversionError, "hivex-node-set-values "+name, err)
	}
	return nil
}

func (n *guestfishNode) DeleteValue(name string) error {
	_, err := n.sb.Run("hivex-node-delete-value", n.handle, name)
	if err != nil {
		return verrors.New(verrors.ConversionError, "hivex-node-delete-value "+name, err)
	}
	return nil
}

func (n *guestfishNode) GetValue(name string) ([]byte, bool, error) {
	out, err := n.sb.Run("hivex-node-get-value", n.handle, name)
	if err != nil {
		return nil, false, nil
	}
	valHandle := strings.TrimSpace(string(out))
	if valHandle == "" || valHandle == "0" {
		return nil, false, nil
	}
	dataOut, err := n.sb.Run("hivex-value-value", valHandle)
	if err != nil {
		return nil, false, verrors.New(verrors.ConversionError, "hivex-value-value "+name, err)
	}
	raw := strings.TrimSpace(string(dataOut))
	decoded, err := hexDecode(raw)
	if err != nil {
		return nil, false, verrors.New(verrors.ConversionError, "decoding hivex-value-value for "+name, err)
	}
	return decoded, true, nil
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}
