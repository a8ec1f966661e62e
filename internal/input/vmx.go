package input

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// VMXPlugin is the §4.1 "VMX" input: an ESXi/vCenter VM description
// fetched over SSH, with scsiX:Y/ideX:Y/ethernetN namespaces decoded into
// disks and NICs. Grounded on the teacher's ssh.Client session.Output
// idiom (platform/base.go's baseCluster.SSH).
type VMXPlugin struct {
	SSHURI string // ssh://user@host/path/to/guest.vmx
	Signer ssh.Signer
	Dial   func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)
}

func (p *VMXPlugin) AsOptions() string {
	return "vmx:" + p.SSHURI
}

var vmxLineRE = regexp.MustCompile(`^([A-Za-z0-9:._-]+)\s*=\s*"(.*)"\s*$`)

func (p *VMXPlugin) Source(ctx context.Context) (*source.Source, error) {
	u, err := url.Parse(p.SSHURI)
	if err != nil || u.Scheme != "ssh" {
		return nil, verrors.New(verrors.InputError, "input.VMXPlugin", fmt.Errorf("%q is not an ssh:// URI", p.SSHURI))
	}

	client, err := p.dial(u)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.VMXPlugin: connecting to "+u.Host, err)
	}
	defer client.Close()

	if err := probeExists(client, u.Path); err != nil {
		return nil, verrors.New(verrors.InputError, "input.VMXPlugin", err)
	}

	raw, err := runSSH(client, "cat "+shellQuote(u.Path))
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.VMXPlugin: reading "+u.Path, err)
	}

	vmx := parseVMX(raw)
	src := sourceFromVMX(vmx)
	remoteDir := u.Path[:strings.LastIndex(u.Path, "/")+1]
	disks, err := diskURIsFromVMX(vmx, u, remoteDir)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.VMXPlugin", err)
	}
	src.Disks = disks
	src.OrigName = src.Name
	if err := src.Validate(); err != nil {
		return nil, verrors.New(verrors.InputError, "input.VMXPlugin", err)
	}
	return src, nil
}

func (p *VMXPlugin) dial(u *url.URL) (*ssh.Client, error) {
	user := u.User.Username()
	if user == "" {
		user = "root"
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(p.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":22"
	}
	dial := p.Dial
	if dial == nil {
		dial = ssh.Dial
	}
	return dial("tcp", host, cfg)
}

func probeExists(client *ssh.Client, path string) error {
	_, err := runSSH(client, "test -f "+shellQuote(path))
	if err != nil {
		return errors.Wrapf(err, "%s not found on remote host", path)
	}
	return nil
}

func runSSH(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()
	out, err := session.Output(cmd)
	return strings.TrimSpace(string(out)), err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parseVMX(raw string) map[string]string {
	vmx := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		m := vmxLineRE.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		vmx[strings.ToLower(m[1])] = m[2]
	}
	return vmx
}

func sourceFromVMX(vmx map[string]string) *source.Source {
	s := &source.Source{
		Name:        vmx["displayname"],
		Hypervisor:  source.HypervisorVMware,
		VCPUs:       1,
		MemoryBytes: defaultGuestMemoryBytes,
	}
	if s.Name == "" {
		s.Name = "vmx-guest"
	}
	if mem, ok := vmx["memsize"]; ok {
		if mb, err := strconv.ParseUint(mem, 10, 64); err == nil {
			s.MemoryBytes = mb * 1024 * 1024
		}
	}
	if cpus, ok := vmx["numvcpus"]; ok {
		if n, err := strconv.Atoi(cpus); err == nil && n > 0 {
			s.VCPUs = n
		}
	}
	if vmx["firmware"] == "efi" {
		s.Firmware = source.FirmwareUEFI
	} else {
		s.Firmware = source.FirmwareBIOS
	}

	ethRE := regexp.MustCompile(`^ethernet(\d+)\.(.+)$`)
	nics := map[int]*source.NIC{}
	var ethIdxs []int
	for k, v := range vmx {
		m := ethRE.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		n, ok := nics[idx]
		if !ok {
			n = &source.NIC{VnetKind: source.VnetNetwork}
			nics[idx] = n
			ethIdxs = append(ethIdxs, idx)
		}
		switch m[2] {
		case "address", "generatedaddress":
			n.MAC = source.NormalizeMAC(v)
		case "virtualdev":
			switch strings.ToLower(v) {
			case "e1000":
				n.Model = source.NICE1000
			case "vmxnet3":
				n.Model = source.NICVirtio
			default:
				n.Model = source.NICOther
			}
		case "networkname":
			n.Vnet = v
			n.OrigVnet = v
		}
	}
	sort.Ints(ethIdxs)
	for _, idx := range ethIdxs {
		s.NICs = append(s.NICs, *nics[idx])
	}
	return s
}

var scsiIDERE = regexp.MustCompile(`^(scsi|ide)(\d+):(\d+)\.(.+)$`)

type vmxDiskRef struct {
	bus      string
	busIdx   int
	unit     int
	fileName string
}

func diskURIsFromVMX(vmx map[string]string, sshURL *url.URL, remoteDir string) ([]source.Disk, error) {
	refs := map[string]*vmxDiskRef{}
	var keys []string
	for k, v := range vmx {
		m := scsiIDERE.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		if m[4] != "filename" {
			continue
		}
		busIdx, _ := strconv.Atoi(m[2])
		unit, _ := strconv.Atoi(m[3])
		key := fmt.Sprintf("%s%d:%d", m[1], busIdx, unit)
		refs[key] = &vmxDiskRef{bus: m[1], busIdx: busIdx, unit: unit, fileName: v}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	disks := make([]source.Disk, 0, len(keys))
	for i, key := range keys {
		ref := refs[key]
		fname := ref.fileName
		format := "vmdk"
		if strings.HasSuffix(strings.ToLower(fname), "-flat.vmdk") {
			fname = fname[:len(fname)-len("-flat.vmdk")] + ".vmdk"
			format = "raw"
		}
		if !strings.HasPrefix(fname, "/") {
			fname = remoteDir + fname
		}

		ctrl := source.ControllerIDE
		if ref.bus == "scsi" {
			ctrl = source.ControllerSCSI
		}
		uri, err := sshDiskURI(sshURL, fname)
		if err != nil {
			return nil, err
		}
		disks = append(disks, source.Disk{ID: i, URI: uri, Format: format, Controller: ctrl})
	}
	return disks, nil
}

// sshDiskURI builds the JSON-formatted file.driver=ssh disk spec qemu-img
// understands for a remote extent (§4.1's VMX transport).
func sshDiskURI(u *url.URL, remotePath string) (string, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "22"
	}
	spec := map[string]interface{}{
		"driver": "ssh",
		"path":   remotePath,
		"server": map[string]string{"host": host, "port": port},
	}
	if user := u.User.Username(); user != "" {
		spec["user"] = user
	}
	spec["host-key-check"] = map[string]string{"mode": "none"}
	b, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return "json:" + string(b), nil
}
