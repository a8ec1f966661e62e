package windows

import "testing"

func TestMatchesGuestOSTable(t *testing.T) {
	cases := []struct {
		path    string
		arch    Arch
		major   int
		minor   int
		variant Variant
		want    bool
	}{
		{`virtio-win/amd64/w10/viostor.sys`, ArchX86_64, 10, 0, VariantClient, true},
		{`virtio-win/x86/win7/viostor.sys`, ArchI386, 6, 1, VariantClient, true},
		{`virtio-win/amd64/win7/viostor.sys`, ArchX86_64, 6, 1, VariantServer, false}, // win7 is client-only
		{`virtio-win/amd64/2k8r2/viostor.sys`, ArchX86_64, 6, 1, VariantServer, true},
		{`virtio-win/amd64/2k8r2/viostor.sys`, ArchX86_64, 6, 1, VariantClient, false},
		{`virtio-win/amd64/xp/viostor.sys`, ArchX86_64, 5, 1, VariantServer, true}, // xp is "any"
		{`virtio-win/i386/vista/netkvm.inf`, ArchI386, 6, 0, VariantClient, true},
		{`virtio-win/amd64/vista/netkvm.inf`, ArchX86_64, 6, 0, VariantClient, false}, // wrong arch
		{`virtio-win/amd64/w10/readme.txt`, ArchX86_64, 10, 0, VariantClient, true},  // extension filtering is separate
	}
	for _, c := range cases {
		got := MatchesGuestOS(c.path, c.arch, c.major, c.minor, c.variant)
		if got != c.want {
			t.Errorf("MatchesGuestOS(%q, %v, %d, %d, %v) = %v, want %v", c.path, c.arch, c.major, c.minor, c.variant, got, c.want)
		}
	}
}

func TestIsDriverFile(t *testing.T) {
	for _, p := range []string{"a.cat", "a.inf", "a.pdb", "a.sys", "A.SYS"} {
		if !IsDriverFile(p) {
			t.Errorf("%q should be a driver file", p)
		}
	}
	for _, p := range []string{"a.txt", "a.exe", "a"} {
		if IsDriverFile(p) {
			t.Errorf("%q should not be a driver file", p)
		}
	}
}

func TestSelectDrivers(t *testing.T) {
	candidates := []string{
		`virtio-win/amd64/w10/viostor.sys`,
		`virtio-win/amd64/w10/viostor.inf`,
		`virtio-win/amd64/w10/netkvm.inf`,
		`virtio-win/amd64/w10/readme.txt`,
		`virtio-win/x86/w10/viostor.sys`,
	}
	staged := SelectDrivers(candidates, ArchX86_64, 10, 0, VariantClient)
	if len(staged) != 3 {
		t.Fatalf("got %d staged, want 3: %v", len(staged), staged)
	}
	offered := Offered(staged)
	if !offered.ViostorSys || !offered.ViostorInf || !offered.NetkvmInf || offered.QxlInf {
		t.Errorf("got %+v", offered)
	}
}
