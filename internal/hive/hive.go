// Package hive implements the declarative registry/BCD edit engine §9
// calls for: a list of (path, [(name, value)]) records applied by a
// helper that opens the hive, creates missing intermediate nodes, writes
// typed values, and commits.
//
// No library in the retrieved corpus offers a Windows-registry-hive codec
// (the teacher and the rest of the pack are Linux/cloud-infra tooling with
// no Windows on-disk format surface), so this is one of the few places the
// standard library carries the whole concern: binary layout via
// encoding/binary, UTF-16LE strings via unicode/utf16. The hive file
// itself is opened through the guest-filesystem library's hive access,
// which is out of scope per §1 — HiveHandle below is the narrow interface
// this package needs from it.
package hive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// ValueType mirrors the registry's on-disk value types (§9).
type ValueType int

const (
	REG_NONE ValueType = iota
	REG_SZ
	REG_EXPAND_SZ
	REG_BINARY
	REG_DWORD
	REG_MULTI_SZ
)

// Value is one typed registry value to write.
type Value struct {
	Name string
	Type ValueType
	SZ   string
	DW   uint32
	Bin  []byte
	Multi []string
}

// Edit is one (path, [(name,value)]) record, §9's unit of declarative
// registry surgery.
type Edit struct {
	Path   []string // key path components, e.g. {"Services","rhelscsi"}
	Values []Value
	Delete []string // value names to remove instead of write
}

// HiveHandle is the narrow surface this package needs from the
// guest-filesystem library's hive access (out of scope per §1).
type HiveHandle interface {
	// Node returns (creating if necessary) the node at the given key path.
	Node(path []string) (Node, error)
	// Children lists the immediate child key names at path. Unlike Node,
	// it never creates missing keys; a missing intermediate key is an
	// error. §4.7's Group-Policy-History and Uninstall\* scans both need
	// this to find children whose names aren't known in advance.
	Children(path []string) ([]string, error)
	Commit() error
}

// Node is one key node in an open hive.
type Node interface {
	SetValue(name string, typ int, data []byte) error
	DeleteValue(name string) error
	GetValue(name string) ([]byte, bool, error)
}

// Apply runs every Edit against h in order, committing once at the end.
func Apply(h HiveHandle, edits []Edit) error {
	for _, e := range edits {
		node, err := h.Node(e.Path)
		if err != nil {
			return fmt.Errorf("hive: opening %v: %w", e.Path, err)
		}
		for _, name := range e.Delete {
			if err := node.DeleteValue(name); err != nil {
				return fmt.Errorf("hive: deleting %v\\%s: %w", e.Path, name, err)
			}
		}
		for _, v := range e.Values {
			data, typ, err := Encode(v)
			if err != nil {
				return fmt.Errorf("hive: encoding %v\\%s: %w", e.Path, v.Name, err)
			}
			if err := node.SetValue(v.Name, typ, data); err != nil {
				return fmt.Errorf("hive: writing %v\\%s: %w", e.Path, v.Name, err)
			}
		}
	}
	return h.Commit()
}

// Encode produces the exact on-disk byte layout for a typed value: UTF-16LE
// with an explicit NUL terminator for string types, little-endian for
// REG_DWORD, and the raw bytes for REG_BINARY/REG_NONE.
func Encode(v Value) ([]byte, int, error) {
	switch v.Type {
	case REG_SZ, REG_EXPAND_SZ:
		return utf16leNUL(v.SZ), int(v.Type), nil
	case REG_DWORD:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v.DW)
		return buf, int(v.Type), nil
	case REG_BINARY, REG_NONE:
		return v.Bin, int(v.Type), nil
	case REG_MULTI_SZ:
		return EncodeMultiSZ(v.Multi), int(v.Type), nil
	}
	return nil, 0, fmt.Errorf("hive: unknown value type %d", v.Type)
}

// utf16leNUL encodes s as UTF-16LE with a single trailing NUL code unit.
func utf16leNUL(s string) []byte {
	units := utf16.Encode([]rune(s))
	units = append(units, 0)
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return buf
}

// EncodeMultiSZ encodes a REG_MULTI_SZ: each string UTF-16LE + NUL,
// concatenated, with a final extra NUL terminating the whole list
// (the "trailing \0\0" §4.7 describes for LowerFilters).
func EncodeMultiSZ(strs []string) []byte {
	var buf bytes.Buffer
	for _, s := range strs {
		buf.Write(utf16leNUL(s))
	}
	buf.Write([]byte{0, 0})
	return buf.Bytes()
}

// DecodeMultiSZ parses a REG_MULTI_SZ byte blob back into its component
// strings, dropping empty entries the way §4.7's LowerFilters cleanup does.
func DecodeMultiSZ(data []byte, dropEmpty bool) []string {
	var out []string
	for len(data) >= 2 {
		end := 0
		for end+1 < len(data) {
			if data[end] == 0 && data[end+1] == 0 {
				break
			}
			end += 2
		}
		if end == 0 {
			break // the list-terminating empty entry
		}
		units := make([]uint16, end/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(data[2*i:])
		}
		s := string(utf16.Decode(units))
		if s != "" || !dropEmpty {
			out = append(out, s)
		}
		data = data[end+2:]
	}
	return out
}

// RemoveFromMultiSZ removes every occurrence of target from strs and drops
// empty entries, per §4.7's LowerFilters edit.
func RemoveFromMultiSZ(strs []string, target string) []string {
	out := strs[:0:0]
	for _, s := range strs {
		if s == "" || s == target {
			continue
		}
		out = append(out, s)
	}
	return out
}

// AppendToExpandSZPath appends suffix to an existing REG_EXPAND_SZ string
// value unless it's already present, preserving the UTF-16LE NUL
// terminator semantics (§4.7's DevicePath edit).
func AppendToExpandSZPath(existing, suffix string) string {
	trimmed := strings.TrimPrefix(suffix, ";")
	for _, part := range splitPathList(existing) {
		if part == trimmed {
			return existing
		}
	}
	if existing == "" {
		return trimmed
	}
	return existing + suffix
}

func splitPathList(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
