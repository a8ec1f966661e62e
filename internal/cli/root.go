package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/virtconv/virt2kvm/internal/controller"
	"github.com/virtconv/virt2kvm/internal/convert/windows"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/netmap"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
)

const (
	defaultCacheDir = "/var/tmp/virt2kvm"
)

type inputFlags struct {
	kind            string
	connect         string // positional arg: guest name (libvirt) or path (disk/ova/vmx)
	connectURI      string // -ic: libvirt connection URI
	format          string
	options         kvList
	password        string
	transport       string
	cacheDir        string
	selinuxEnforced bool
}

type outputFlags struct {
	kind       string
	allocation string
	connect    string
	format     string
	name       string
	options    kvList
	password   string
	storage    string
}

type mapFlags struct {
	bridges  []string
	networks []string
	macs     []string
}

type modeFlags struct {
	inPlace       bool
	noCopy        bool
	compressed    bool
	debugOverlays bool
	printEstimate bool
	printSource   bool
	root          string

	// back-compat no-ops
	noTrim bool
	vmtype string
}

func newRootCommand() *cobra.Command {
	in := &inputFlags{}
	out := &outputFlags{}
	m := &mapFlags{}
	mode := &modeFlags{}

	root := &cobra.Command{
		Use:   "virt2kvm [guest]",
		Short: "Convert a foreign-hypervisor guest into a KVM-bootable one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startLogging()
			if len(args) == 0 {
				return printCapabilities(cmd.OutOrStdout())
			}
			in.connect = args[0]
			if out.name == "" {
				out.name = args[0]
			}
			return runConvert(cmd, in, out, m, mode)
		},
		SilenceUsage: true,
	}

	root.Flags().StringVarP(&in.kind, "input", "i", "libvirt", "Input transport: disk|libvirt|libvirtxml|ova|vmx")
	root.Flags().StringVar(&in.connectURI, "ic", "", "Input connection URI (libvirt transports)")
	root.Flags().StringVar(&in.format, "if", "", "Input disk format override")
	root.Flags().Var(&in.options, "io", "Input transport option key[=value], repeatable; \"?\" lists them")
	root.Flags().StringVar(&in.password, "ip", "", "Path to a file holding the input transport's password")
	root.Flags().StringVar(&in.transport, "it", "", "Input sub-transport: ssh|vddk")

	root.Flags().StringVarP(&out.kind, "output", "o", "libvirt", "Output transport: local|libvirt|null|qemu|glance|openstack|rhv|rhv-upload|vdsm")
	root.Flags().StringVar(&out.allocation, "oa", "sparse", "Output allocation: sparse|preallocated")
	root.Flags().StringVar(&out.connect, "oc", "", "Output connection URI or directory")
	root.Flags().StringVar(&out.format, "of", "", "Output disk format: raw|qcow2")
	root.Flags().StringVar(&out.name, "on", "", "Output guest name (defaults to the input guest name)")
	root.Flags().Var(&out.options, "oo", "Output transport option key[=value], repeatable; \"?\" lists them")
	root.Flags().StringVar(&out.password, "op", "", "Path to a file holding the output transport's password")
	root.Flags().StringVar(&out.storage, "os", "", "Output storage pool/domain name")

	root.Flags().StringSliceVar(&m.bridges, "bridge", nil, "Bridge network mapping in:out, repeatable")
	root.Flags().StringSliceVarP(&m.networks, "network", "n", nil, "Libvirt network mapping in:out, repeatable")
	root.Flags().StringSliceVar(&m.macs, "mac", nil, "MAC-pinned mapping HH:HH:HH:HH:HH:HH:{network|bridge}:out, repeatable")

	root.Flags().BoolVar(&mode.inPlace, "in-place", false, "Convert in place: inspect and fix up without copying")
	root.Flags().BoolVar(&mode.noCopy, "no-copy", false, "Stop after conversion; skip the copy-to-target step")
	root.Flags().BoolVar(&mode.compressed, "compressed", false, "Compress qcow2 output")
	root.Flags().BoolVar(&mode.debugOverlays, "debug-overlay", false, "Keep overlay files after the run")
	root.Flags().BoolVar(&mode.debugOverlays, "debug-overlays", false, "Keep overlay files after the run")
	root.Flags().BoolVar(&mode.printEstimate, "print-estimate", false, "Print the per-disk size estimate as JSON and exit")
	root.Flags().BoolVar(&mode.printSource, "print-source", false, "Print the parsed Source as JSON and exit")
	root.Flags().StringVar(&mode.root, "root", "ask", "Root selection policy: ask|single|first|/dev/X")

	root.Flags().BoolVar(&mode.noTrim, "no-trim", false, "No effect; retained for command-line compatibility")
	root.Flags().StringVar(&mode.vmtype, "vmtype", "", "No effect; retained for command-line compatibility")

	return root
}

func printCapabilities(w io.Writer) error {
	caps := struct {
		Program string   `json:"program"`
		Inputs  []string `json:"inputs"`
		Outputs []string `json:"outputs"`
		OVF     []string `json:"ovf"`
	}{
		Program: "virt-v2v",
		Inputs:  []string{"disk", "libvirt", "libvirtxml", "ova", "vmx"},
		Outputs: []string{"local", "libvirt", "null", "qemu", "glance", "openstack", "rhv", "rhv-upload", "vdsm"},
		OVF:     []string{"rhv"},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(caps)
}

// preallocationParam maps -oa's two spellings to copyengine's qemu-img
// -o preallocation values, leaving anything else to pass through
// unchanged so a caller can still hand qemu-img's own vocabulary
// (off|metadata|falloc|full) straight through.
func preallocationParam(allocation string) string {
	switch allocation {
	case "", "sparse":
		return ""
	case "preallocated":
		return "full"
	default:
		return allocation
	}
}

func parseRootPolicy(s string) inspect.RootPolicy {
	switch s {
	case "single":
		return inspect.RootPolicy{Kind: inspect.PolicySingle}
	case "first":
		return inspect.RootPolicy{Kind: inspect.PolicyFirst}
	case "ask", "":
		return inspect.RootPolicy{Kind: inspect.PolicyAsk}
	default:
		return inspect.RootPolicy{Kind: inspect.PolicyDev, Dev: s}
	}
}

func buildNetmapRules(m *mapFlags) ([]netmap.Rule, error) {
	var rules []netmap.Rule
	for _, spec := range m.bridges {
		r, err := netmap.ParseInOutRule(source.VnetBridge, spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	for _, spec := range m.networks {
		r, err := netmap.ParseInOutRule(source.VnetNetwork, spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	for _, spec := range m.macs {
		r, err := netmap.ParseMACRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func virtioWinFiles() []string {
	dir := os.Getenv("VIRTIO_WIN")
	if dir == "" {
		dir = os.Getenv("VIRTIO_WIN_DIR")
	}
	if dir == "" {
		return nil
	}
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		plog.Warningf("reading VIRTIO_WIN %s: %v", dir, err)
		return nil
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, dir+string(os.PathSeparator)+e.Name())
		}
	}
	return files
}

func runConvert(cmd *cobra.Command, in *inputFlags, out *outputFlags, m *mapFlags, mode *modeFlags) error {
	in.cacheDir = defaultCacheDir
	plugin, err := buildInput(in)
	if err != nil {
		return err
	}

	outputPlugin, err := buildOutput(out, procutil.Exec, nowUTCString)
	if err != nil {
		return err
	}
	if err := outputPlugin.Precheck(); err != nil {
		return err
	}

	rules, err := buildNetmapRules(m)
	if err != nil {
		return err
	}

	cfg := controller.Config{
		Runner:         procutil.Exec,
		Input:          plugin,
		Output:         outputPlugin,
		NetmapRules:    rules,
		CacheDir:       defaultCacheDir,
		DebugOverlays:  mode.debugOverlays,
		RootPolicy:     parseRootPolicy(mode.root),
		AskIn:          cmd.InOrStdin(),
		AskOut:         cmd.OutOrStdout(),
		RequiredCaps:   windows.RequiredCapabilities{},
		VirtioWinFiles: virtioWinFiles(),
		Preallocation:  preallocationParam(out.allocation),
		OutputName:     out.name,
		NoCopy:         mode.noCopy || mode.inPlace,
	}

	result, err := controller.Run(context.Background(), cfg)
	if err != nil {
		return err
	}

	if mode.printSource {
		return printJSON(cmd.OutOrStdout(), result.Source)
	}
	if mode.printEstimate {
		estimates := make(map[string]uint64, len(result.Targets))
		for _, t := range result.Targets {
			if t.HasEstimate {
				estimates[t.Location] = t.EstimatedSize
			}
		}
		return printJSON(cmd.OutOrStdout(), estimates)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "converted %s: %d disk(s)\n", result.Source.Name, len(result.Targets))
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// nowUTCString is the only time.Now call in this binary, injected into
// VDSMPlugin.CreationUTC so ovfdoc stays free of wall-clock reads.
func nowUTCString() string {
	return time.Now().UTC().Format("2006/01/02 15:04:05")
}
