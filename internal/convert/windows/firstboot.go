package windows

import "fmt"

// FirstbootScript is one script staged to run, in order, on first boot of
// the converted guest and then delete itself (§4.7 "Firstboot injection").
type FirstbootScript struct {
	Name     string
	Contents string
}

// UninstallInfo is a located hypervisor-tools uninstaller.
type UninstallInfo struct {
	DisplayName string
	Command     string
	TolerateErrorLevel3010 bool // Parallels uninstalls may require a reboot
}

// FixXenUninstallString decodes §4.7's Xen Paravirtualized driver uninstall
// string workaround: if it ends in uninst.exe, replace the trailing
// program with _uninst.exe to avoid user prompts.
func FixXenUninstallString(raw string) string {
	const suffix = "uninst.exe"
	if len(raw) >= len(suffix) && raw[len(raw)-len(suffix):] == suffix {
		return raw[:len(raw)-len(suffix)] + "_uninst.exe"
	}
	return raw
}

// ParallelsUninstallCommand appends the fixed silence/logging flags §4.7
// specifies to a located Parallels/Virtuozzo Tools UninstallString.
func ParallelsUninstallCommand(raw string) string {
	return raw + ` /quiet /norestart /l*v+ "%~dpn0.log" REBOOT=ReallySuppress REMOVE=ALL PREVENT_REBOOT=Yes LAUNCHED_BY_SETUP_EXE=Yes`
}

// BuildFirstbootScripts assembles the ordered script list: pnp_wait.exe
// always first (it suppresses PnP prompts for everything after it), then
// optional agent installers if present in the data dir, then any gathered
// uninstall commands.
func BuildFirstbootScripts(dataDirHasRhevApt, dataDirHasVmdp bool, uninstalls []UninstallInfo) []FirstbootScript {
	scripts := []FirstbootScript{
		{Name: "0000-pnp_wait.cmd", Contents: "@echo off\r\npnp_wait.exe\r\n"},
	}
	idx := 1
	if dataDirHasRhevApt {
		scripts = append(scripts, FirstbootScript{
			Name:     fmt.Sprintf("%04d-rhev-apt.cmd", idx),
			Contents: "@echo off\r\nrhev-apt.exe /S /v/qn\r\n",
		})
		idx++
	}
	if dataDirHasVmdp {
		scripts = append(scripts, FirstbootScript{
			Name:     fmt.Sprintf("%04d-vmdp.cmd", idx),
			Contents: "@echo off\r\nvmdp.exe /S /v/qn\r\n",
		})
		idx++
	}
	for _, u := range uninstalls {
		contents := "@echo off\r\n" + u.Command + "\r\n"
		if u.TolerateErrorLevel3010 {
			contents += "if errorlevel 3010 exit /b 0\r\n"
		}
		scripts = append(scripts, FirstbootScript{
			Name:     fmt.Sprintf("%04d-uninstall-%s.cmd", idx, sanitize(u.DisplayName)),
			Contents: contents,
		})
		idx++
	}
	return scripts
}

func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
