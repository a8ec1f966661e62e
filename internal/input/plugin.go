// Package input implements the §4.1 input plugin model: five built-in
// sources (local disk, generic libvirt, libvirt-XML, OVA, VMX) plus the
// libvirt+VDDK augmentation, each producing a canonical source.Source.
package input

import (
	"context"

	"github.com/virtconv/virt2kvm/internal/source"
)

// Plugin is the §4.1 input plugin contract.
type Plugin interface {
	// AsOptions is a reproducible option string for diagnostics.
	AsOptions() string
	// Source may block on network I/O and fails with a verrors InputError.
	Source(ctx context.Context) (*source.Source, error)
}

// NetworkMapRule is one rule of the §4.1 "Network mapping" subsection,
// applied by the controller after Source returns. Kept here (rather than
// in internal/netmap, which only knows MAC/in-out matching) so input
// plugins can record each NIC's pre-mapping vnet name for comment
// emission, per the spec's "pre-mapping name is preserved" requirement.
func PreserveOrigVnet(s *source.Source) {
	for i := range s.NICs {
		if s.NICs[i].OrigVnet == "" {
			s.NICs[i].OrigVnet = s.NICs[i].Vnet
		}
	}
}
