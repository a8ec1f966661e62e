package input

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi/ovf"

	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// OVAPlugin is the §4.1 "OVA" input: a tar archive containing an .ovf
// descriptor, a .mf manifest (SHA1 or SHA256 per entry), and one or more
// (optionally gzip'd) VMDK extents. Grounded on the open/readEnvelope/tar
// scan in the teacher's platform/api/esx/archive.go.
type OVAPlugin struct {
	Path      string
	ScratchDir string // extents are decompressed here when gzip'd
}

func (p *OVAPlugin) AsOptions() string {
	return "ova:" + p.Path
}

type ovaMember struct {
	name string
	size int64
}

func (p *OVAPlugin) Source(ctx context.Context) (*source.Source, error) {
	members, err := p.listMembers()
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.OVAPlugin: listing "+p.Path, err)
	}

	var ovfName, mfName string
	for _, m := range members {
		switch strings.ToLower(filepath.Ext(m.name)) {
		case ".ovf":
			ovfName = m.name
		case ".mf":
			mfName = m.name
		}
	}
	if ovfName == "" {
		return nil, verrors.New(verrors.InputError, "input.OVAPlugin",
			fmt.Errorf("%s: no .ovf descriptor found", p.Path))
	}

	ovfBytes, err := p.readMember(ovfName)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.OVAPlugin: reading "+ovfName, err)
	}
	env, err := ovf.Unmarshal(strings.NewReader(string(ovfBytes)))
	if err != nil {
		return nil, errors.Wrap(err, "input.OVAPlugin: parsing "+ovfName)
	}

	if mfName != "" {
		if err := p.verifyManifest(mfName, ovfName, ovfBytes); err != nil {
			return nil, verrors.New(verrors.InputError, "input.OVAPlugin: manifest verification", err)
		}
	} else {
		plog.Warningf("%s: no manifest present, skipping digest verification", p.Path)
	}

	src, diskFiles, err := sourceFromEnvelope(env)
	if err != nil {
		return nil, verrors.New(verrors.InputError, "input.OVAPlugin", err)
	}

	disks := make([]source.Disk, 0, len(diskFiles))
	for i, fname := range diskFiles {
		extentPath, err := p.materializeExtent(fname)
		if err != nil {
			return nil, verrors.New(verrors.InputError, "input.OVAPlugin: extracting "+fname, err)
		}
		format := "vmdk"
		if strings.HasSuffix(extentPath, ".raw") {
			format = "raw"
		}
		disks = append(disks, source.Disk{ID: i, URI: extentPath, Format: format})
	}
	src.Disks = disks
	src.OrigName = src.Name
	if err := src.Validate(); err != nil {
		return nil, verrors.New(verrors.InputError, "input.OVAPlugin", err)
	}
	return src, nil
}

// sourceFromEnvelope maps the subset of an OVF envelope §4.1 needs
// (name, memory, vcpu, disk file references, network adapters) into a
// canonical Source. Full hardware-item decoding mirrors §6.3's own
// ResourceType table in reverse.
func sourceFromEnvelope(env *ovf.Envelope) (*source.Source, []string, error) {
	if env.VirtualSystem == nil {
		return nil, nil, fmt.Errorf("ovf descriptor has no VirtualSystem element")
	}
	vs := env.VirtualSystem

	name := ""
	if vs.Name != nil {
		name = *vs.Name
	}
	if len(vs.VirtualHardware) == 0 {
		return nil, nil, fmt.Errorf("ovf descriptor has no VirtualHardwareSection")
	}
	hw := vs.VirtualHardware[0]

	s := &source.Source{Name: name, Hypervisor: source.HypervisorVMware, VCPUs: 1, MemoryBytes: defaultGuestMemoryBytes}
	for _, item := range hw.Item {
		rt := uint16(0)
		if item.ResourceType != nil {
			rt = uint16(*item.ResourceType)
		}
		switch rt {
		case 3: // CPU
			if item.VirtualQuantity != nil {
				s.VCPUs = int(*item.VirtualQuantity)
			}
		case 4: // memory, reported in MB
			if item.VirtualQuantity != nil {
				s.MemoryBytes = uint64(*item.VirtualQuantity) * 1024 * 1024
			}
		case 10: // ethernet adapter
			model := source.NICRTL
			if item.ResourceSubType != nil {
				switch *item.ResourceSubType {
				case "E1000":
					model = source.NICE1000
				case "VirtualVmxnet3", "virtio":
					model = source.NICVirtio
				}
			}
			s.NICs = append(s.NICs, source.NIC{Model: model, VnetKind: source.VnetNetwork, Vnet: defaultNetworkName, OrigVnet: defaultNetworkName})
		}
	}

	var diskFiles []string
	if env.Disk != nil {
		fileByID := make(map[string]string, len(env.References))
		for _, f := range env.References {
			fileByID[f.ID] = f.Href
		}
		for _, d := range env.Disk.Disks {
			if href, ok := fileByID[d.FileRef]; ok {
				diskFiles = append(diskFiles, href)
			}
		}
	}
	if len(diskFiles) == 0 {
		return nil, nil, fmt.Errorf("ovf descriptor references no disk files")
	}
	return s, diskFiles, nil
}

func (p *OVAPlugin) listMembers() ([]ovaMember, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var members []ovaMember
	r := tar.NewReader(f)
	for {
		h, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if h.Typeflag == tar.TypeReg {
			members = append(members, ovaMember{name: h.Name, size: h.Size})
		}
	}
	return members, nil
}

func (p *OVAPlugin) readMember(name string) ([]byte, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := tar.NewReader(f)
	for {
		h, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if h.Name == name || path.Base(h.Name) == name {
			return io.ReadAll(r)
		}
	}
	return nil, fmt.Errorf("%s: member %q not found", p.Path, name)
}

// verifyManifest checks every digest line the .mf file carries against the
// matching archive member. Malformed lines are warned about, not fatal,
// per §4.1's manifest handling note; a digest mismatch is always fatal.
func (p *OVAPlugin) verifyManifest(mfName, ovfName string, ovfBytes []byte) error {
	mfBytes, err := p.readMember(mfName)
	if err != nil {
		return err
	}
	digests := map[string]string{} // filename -> "algo:hexdigest"
	for _, line := range strings.Split(string(mfBytes), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// SHA1(disk.vmdk)= abcdef...
		open := strings.Index(line, "(")
		closeIdx := strings.Index(line, ")")
		eq := strings.Index(line, "=")
		if open < 0 || closeIdx < open || eq < closeIdx {
			plog.Warningf("%s: malformed manifest line %q, ignoring", p.Path, line)
			continue
		}
		algo := strings.ToUpper(strings.TrimSpace(line[:open]))
		file := line[open+1 : closeIdx]
		digest := strings.TrimSpace(line[eq+1:])
		digests[file] = algo + ":" + digest
	}

	if want, ok := digests[ovfName]; ok {
		if err := checkDigest(ovfBytes, want); err != nil {
			return errors.Wrap(err, ovfName)
		}
	}
	for file, want := range digests {
		if file == ovfName {
			continue
		}
		data, err := p.readMember(file)
		if err != nil {
			plog.Warningf("%s: manifest references missing member %q", p.Path, file)
			continue
		}
		if err := checkDigest(data, want); err != nil {
			return errors.Wrap(err, file)
		}
	}
	return nil
}

func checkDigest(data []byte, want string) error {
	parts := strings.SplitN(want, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed digest spec %q", want)
	}
	algo, hexWant := parts[0], parts[1]
	var got string
	switch algo {
	case "SHA1":
		sum := sha1.Sum(data)
		got = hex.EncodeToString(sum[:])
	case "SHA256":
		sum := sha256.Sum256(data)
		got = hex.EncodeToString(sum[:])
	default:
		return fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	if !strings.EqualFold(got, hexWant) {
		return fmt.Errorf("digest mismatch: got %s, manifest says %s", got, hexWant)
	}
	return nil
}

// materializeExtent extracts one VMDK extent to ScratchDir, decompressing
// it if the archive member is gzip'd (OVF permits .vmdk.gz extents).
func (p *OVAPlugin) materializeExtent(name string) (string, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := tar.NewReader(f)
	for {
		h, err := r.Next()
		if err == io.EOF {
			return "", fmt.Errorf("%s: extent %q not found", p.Path, name)
		}
		if err != nil {
			return "", err
		}
		if h.Name != name && path.Base(h.Name) != path.Base(name) {
			continue
		}

		if err := os.MkdirAll(p.ScratchDir, 0755); err != nil {
			return "", err
		}
		destName := strings.TrimSuffix(path.Base(name), ".gz")
		dest := filepath.Join(p.ScratchDir, destName)
		out, err := os.Create(dest)
		if err != nil {
			return "", err
		}
		defer out.Close()

		var src io.Reader = r
		if strings.HasSuffix(name, ".gz") {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return "", errors.Wrap(err, "decompressing extent")
			}
			defer gz.Close()
			src = gz
		}
		if _, err := io.Copy(out, src); err != nil {
			return "", err
		}
		return dest, nil
	}
}

