package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/utils/openstack/clientconfig"

	"github.com/virtconv/virt2kvm/internal/input"
	"github.com/virtconv/virt2kvm/internal/output"
	"github.com/virtconv/virt2kvm/internal/ovfdoc"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/supervisor"
)

// buildInput dispatches on -i to construct the input plugin. -ic/-if/-ip/-it
// carry the per-kind connection/format/password/transport details; -io
// entries are forwarded as a generic key=value bag for kinds that don't
// have a dedicated flag for a given knob (§6.1).
func buildInput(f *inputFlags) (input.Plugin, error) {
	opts, printHelp := f.options.asMap()
	if printHelp {
		printOptionList(os.Stdout, "-i "+f.kind, []string{"vmtype", "cache", "discard"})
		os.Exit(0)
	}

	switch f.kind {
	case "", "libvirt":
		if f.transport == "vddk" {
			return buildVDDK(f, opts)
		}
		return &input.LibvirtPlugin{ConnectURI: f.connectURI, GuestName: f.connect}, nil

	case "disk":
		return &input.DiskPlugin{Path: f.connect, Format: f.format}, nil

	case "libvirtxml":
		return &input.LibvirtXMLPlugin{Path: f.connect}, nil

	case "ova":
		return &input.OVAPlugin{Path: f.connect, ScratchDir: opts["scratch"]}, nil

	case "vmx":
		return &input.VMXPlugin{SSHURI: f.connect}, nil

	default:
		return nil, fmt.Errorf("unknown input transport %q", f.kind)
	}
}

func buildVDDK(f *inputFlags, opts map[string]string) (input.Plugin, error) {
	libvirtPlugin := &input.LibvirtPlugin{ConnectURI: f.connectURI, GuestName: f.connect}
	pw := supervisor.Password{Kind: supervisor.NoPassword}
	if f.password != "" {
		pw = supervisor.Password{Kind: supervisor.PasswordFile, Path: f.password}
	}
	sup := supervisor.New(procutil.Exec, f.cacheDir, f.selinuxEnforced)
	return &input.VDDKPlugin{
		Libvirt: libvirtPlugin,
		Sup:     sup,
		Params: input.VDDKParams{
			LibDir:     opts["libdir"],
			Server:     opts["server"],
			Thumbprint: opts["thumbprint"],
			Snapshot:   opts["snapshot"],
			Password:   pw,
		},
	}, nil
}

// buildOutput dispatches on -o to construct the output plugin.
func buildOutput(f *outputFlags, runner procutil.Runner, now func() string) (output.Plugin, error) {
	opts, printHelp := f.options.asMap()
	if printHelp {
		printOptionList(os.Stdout, "-o "+f.kind, []string{"rhv-cluster-uuid", "rhv-storage-domain-uuid", "qemu-boot"})
		os.Exit(0)
	}

	switch f.kind {
	case "", "libvirt":
		return &output.LibvirtPoolPlugin{ConnectURI: f.connect, PoolName: f.storage, Format: f.format, RunnerRef: runner}, nil

	case "local":
		return &output.LocalPlugin{Dir: f.connect, Format: f.format, RunnerRef: runner}, nil

	case "null":
		return output.NullPlugin{}, nil

	case "qemu":
		_, boot := opts["qemu-boot"]
		return &output.QemuPlugin{Dir: f.connect, Format: f.format, BootNow: boot, RunnerRef: runner}, nil

	case "glance":
		client, err := openstackServiceClient("image", f.connect)
		if err != nil {
			return nil, err
		}
		minRAM, _ := strconv.Atoi(opts["min-ram"])
		return &output.ImageServicePlugin{Client: client, ScratchDir: f.connect, Format: f.format, MinRAMMiB: minRAM, RunnerRef: runner}, nil

	case "openstack":
		volClient, err := openstackServiceClient("volume", f.connect)
		if err != nil {
			return nil, err
		}
		computeClient, err := openstackServiceClient("compute", f.connect)
		if err != nil {
			return nil, err
		}
		return &output.BlockStoragePlugin{VolumeClient: volClient, ComputeClient: computeClient, ApplianceID: opts["appliance-id"], RunnerRef: runner}, nil

	case "rhv", "rhv-upload", "vdsm":
		layout := ovfdoc.Layout{MountPoint: f.connect, SDUUID: f.storage}
		return &output.VDSMPlugin{
			Layout:         layout,
			VMUUID:         ovfdoc.NewUUID(),
			OSToken:        opts["os-token"],
			CreationUTC:    now,
			SoundDevice:    opts["sound"],
			RunnerRef:      runner,
			RHVClusterUUID: opts["rhv-cluster-uuid"],
		}, nil

	default:
		return nil, fmt.Errorf("unknown output transport %q", f.kind)
	}
}

// openstackServiceClient builds a gophercloud client for the named
// service type from a clouds.yaml profile, the same
// gophercloud/utils/openstack/clientconfig idiom platform/api/openstack.New
// uses for its compute/image/network clients.
func openstackServiceClient(serviceType, profile string) (*gophercloud.ServiceClient, error) {
	if profile == "" {
		profile = "openstack"
	}
	osOpts := &clientconfig.ClientOpts{Cloud: profile}
	client, err := clientconfig.NewServiceClient(serviceType, osOpts)
	if err != nil {
		return nil, fmt.Errorf("building %s client for cloud %q: %w", serviceType, profile, err)
	}
	return client, nil
}

