package windows

import "github.com/virtconv/virt2kvm/internal/hive"

// bcdElementDisplayOrder is the Objects\{9dea862c-...}\Elements key that
// lists the boot manager's display-order device references.
const (
	bcdBootMgrGUID   = "{9dea862c-5cdd-4e70-acc1-f32b344d4795}"
	bcdDisplayOrder  = "23000003"
	bcdDeviceElement = "16000046"
)

// BCDEntry is one object entry read out of the BCD hive, keyed by its
// object GUID.
type BCDEntry struct {
	GUID string
}

// BCDRemoveDeviceElementEdits builds the Edit list that removes the
// Elements\16000046 value from each boot entry the boot manager's display
// order dereferences, for every entry in bootEntries (§4.7: the UEFI BCD
// edit strips device element overrides so the firmware falls back to its
// own default boot device — required because the converted guest's ESP
// is on a different bus than the source).
//
// Entries with no 16000046 value are silently skipped; the caller applies
// the returned edits with hive.Apply, and a missing value simply yields a
// Delete with no matching write.
func BCDRemoveDeviceElementEdits(bootEntries []BCDEntry) []hive.Edit {
	var edits []hive.Edit
	for _, e := range bootEntries {
		edits = append(edits, hive.Edit{
			Path:   []string{"Objects", e.GUID, "Elements", bcdDeviceElement},
			Delete: []string{""},
		})
	}
	return edits
}

// BCDDisplayOrderEntries reads the boot manager's display-order list, the
// set of GUIDs BCDRemoveDeviceElementEdits should be called with.
func BCDDisplayOrderEntries(h hive.HiveHandle) ([]BCDEntry, error) {
	node, err := h.Node([]string{"Objects", bcdBootMgrGUID, "Elements", bcdDisplayOrder})
	if err != nil {
		return nil, err
	}
	data, ok, err := node.GetValue("")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	guids := hive.DecodeMultiSZ(data, true)
	entries := make([]BCDEntry, len(guids))
	for i, g := range guids {
		entries[i] = BCDEntry{GUID: g}
	}
	return entries, nil
}
