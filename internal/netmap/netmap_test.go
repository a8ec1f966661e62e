package netmap

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/source"
)

func TestMapFirstMatchWins(t *testing.T) {
	nics := []source.NIC{
		{MAC: "52:54:00:11:22:33", Vnet: "vmnet0", VnetKind: source.VnetNetwork},
		{Vnet: "br0", VnetKind: source.VnetBridge},
		{Vnet: "unmatched", VnetKind: source.VnetNetwork},
	}
	rules := []Rule{
		{MAC: "52:54:00:11:22:33", Out: "pinned"},
		{In: "vmnet0", Kind: source.VnetNetwork, Out: "should-not-apply"},
		{In: "br0", Kind: source.VnetBridge, Out: "mapped-bridge"},
		{Default: true, Kind: source.VnetNetwork, Out: "default-net"},
	}
	Map(nics, rules)

	if nics[0].Vnet != "pinned" {
		t.Errorf("nic0.Vnet = %q, want pinned (MAC rule should win over in->out)", nics[0].Vnet)
	}
	if nics[0].OrigVnet != "vmnet0" {
		t.Errorf("nic0.OrigVnet = %q, want vmnet0", nics[0].OrigVnet)
	}
	if nics[1].Vnet != "mapped-bridge" {
		t.Errorf("nic1.Vnet = %q, want mapped-bridge", nics[1].Vnet)
	}
	if nics[2].Vnet != "default-net" {
		t.Errorf("nic2.Vnet = %q, want default-net", nics[2].Vnet)
	}
}

func TestParseMACRule(t *testing.T) {
	r, err := ParseMACRule("52:54:00:11:22:33:bridge:br1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.MAC != "52:54:00:11:22:33" || r.Kind != source.VnetBridge || r.Out != "br1" {
		t.Errorf("got %+v", r)
	}
}

func TestParseMACRuleInvalid(t *testing.T) {
	if _, err := ParseMACRule("not-a-mac:bridge:out"); err == nil {
		t.Fatal("expected error for malformed mac rule")
	}
}

func TestParseInOutRuleDefault(t *testing.T) {
	r, err := ParseInOutRule(source.VnetNetwork, "*:outnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Default || r.Out != "outnet" {
		t.Errorf("got %+v", r)
	}
}
