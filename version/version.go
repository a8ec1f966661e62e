// Package version carries the build-time version string, set via
// -ldflags "-X github.com/virtconv/virt2kvm/version.Version=..." the same
// way mantle/version does it.
package version

// Version is overridden at link time; left as "dev" for local builds.
var Version = "dev"
