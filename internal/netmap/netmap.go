// Package netmap implements the controller's post-input NIC remapping
// (§4.1 "Network mapping"): explicit in->out rules per vnet kind, MAC-pinned
// rules, and per-kind defaults, applied in first-match order.
package netmap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/virtconv/virt2kvm/internal/source"
)

// Rule is one mapping rule. Exactly one of {In, MAC, Default} selects it.
type Rule struct {
	In      string // matches NIC.Vnet when Kind matches and MAC == ""
	MAC     string // matches NIC.MAC when set (case-insensitive)
	Kind    source.VnetKind
	Out     string
	Default bool // a "*->out" rule for Kind
}

var macRe = regexp.MustCompile(`^(?i)([0-9a-f]{2}(:[0-9a-f]{2}){5}):(network|bridge):(.+)$`)

// ParseMACRule parses the --mac HH:HH:HH:HH:HH:HH:{network|bridge}:out form.
func ParseMACRule(spec string) (Rule, error) {
	m := macRe.FindStringSubmatch(spec)
	if m == nil {
		return Rule{}, fmt.Errorf("netmap: invalid --mac rule %q", spec)
	}
	kind := source.VnetNetwork
	if strings.EqualFold(m[3], "bridge") {
		kind = source.VnetBridge
	}
	return Rule{MAC: strings.ToLower(m[1]), Kind: kind, Out: m[4]}, nil
}

// ParseInOutRule parses the "--bridge in:out" / "-n in:out" form for the
// given kind.
func ParseInOutRule(kind source.VnetKind, spec string) (Rule, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Rule{}, fmt.Errorf("netmap: invalid mapping %q", spec)
	}
	if parts[0] == "*" {
		return Rule{Default: true, Kind: kind, Out: parts[1]}, nil
	}
	return Rule{In: parts[0], Kind: kind, Out: parts[1]}, nil
}

// Map applies rules to nics in place, first-match-wins per nic, preserving
// nic.OrigVnet as the pre-mapping value.
func Map(nics []source.NIC, rules []Rule) {
	for i := range nics {
		nic := &nics[i]
		nic.OrigVnet = nic.Vnet
		for _, r := range rules {
			if match(nic, r) {
				nic.Vnet = r.Out
				break
			}
		}
	}
}

func match(nic *source.NIC, r Rule) bool {
	if r.MAC != "" {
		// The rule's Kind names the kind of Out (network vs. bridge), not a
		// match predicate on the NIC's current kind: a MAC-pinned rule
		// overrides regardless of how the NIC currently attaches.
		return nic.MAC != "" && strings.EqualFold(nic.MAC, r.MAC)
	}
	if r.Default {
		return nic.VnetKind == r.Kind
	}
	return nic.VnetKind == r.Kind && nic.Vnet == r.In
}
