// Command virt2kvm converts a foreign-hypervisor guest into a
// KVM-bootable one: inspect, rewrite drivers and boot configuration, and
// copy disks to a target storage backend.
package main

import (
	"github.com/virtconv/virt2kvm/internal/cli"
)

func main() {
	cli.Execute()
}
