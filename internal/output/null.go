package output

import (
	"fmt"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/source"
)

// NullPlugin discards converted data; §4.9's "useful for testing" backend.
// It always forces raw/sparse regardless of what the caller asked for.
type NullPlugin struct{}

func (NullPlugin) AsOptions() string { return "null" }

func (NullPlugin) SupportedFirmware() []source.Firmware {
	return []source.Firmware{source.FirmwareBIOS, source.FirmwareUEFI}
}

func (NullPlugin) InstallRhevApt() bool   { return false }
func (NullPlugin) KeepSerialConsole() bool { return true }
func (NullPlugin) Precheck() error         { return nil }

func (NullPlugin) PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error) {
	targets := make([]*source.Target, len(overlays))
	for i, ov := range overlays {
		targets[i] = &source.Target{
			Location: fmt.Sprintf("null:%s-sd%d", src.Name, i),
			Format:   "raw",
			Overlay:  ov,
		}
	}
	return targets, nil
}

func (NullPlugin) CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error {
	return nil
}

func (NullPlugin) CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error {
	return nil
}

// DiskCreate discards the request; satisfies copyengine.TargetProvisioner.
func (NullPlugin) DiskCreate(params copyengine.DiskCreateParams) error { return nil }
