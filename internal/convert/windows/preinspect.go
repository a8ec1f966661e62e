package windows

import (
	"regexp"
	"strings"

	"github.com/virtconv/virt2kvm/internal/hive"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// groupPolicyHistoryChildRe matches a Group Policy History child key name,
// a GUID in braces (§4.7).
var groupPolicyHistoryChildRe = regexp.MustCompile(`^\{[0-9a-fA-F-]+\}$`)

// xenUninstallKey is the fixed Uninstall\* key the Xen uninstall string
// lives under (§4.7).
var xenUninstallKey = "Red Hat Paravirtualized Xen Drivers for Windows(R)"

// BuildPreInspection scans the already-open SOFTWARE hive for the facts
// §4.7's later edits need: Group Policy presence, the Xen uninstall
// string, and any Parallels/Virtuozzo Tools uninstall strings. avPresent
// is supplied by the caller since antivirus detection reads installed
// application listings, not the hive.
func BuildPreInspection(software hive.HiveHandle, avPresent bool) (PreInspection, error) {
	pre := PreInspection{AVPresent: avPresent}

	if children, err := software.Children([]string{"Microsoft", "Windows", "CurrentVersion", "Group Policy", "History"}); err == nil {
		for _, name := range children {
			if groupPolicyHistoryChildRe.MatchString(name) {
				pre.GroupPolicyPresent = true
				break
			}
		}
	}

	names, err := software.Children([]string{"Microsoft", "Windows", "CurrentVersion", "Uninstall"})
	if err != nil {
		return pre, nil
	}

	for _, name := range names {
		if name == xenUninstallKey {
			if xen, err := readUninstallString(software, name); err == nil && xen != "" {
				pre.XenUninstall = &UninstallInfo{DisplayName: xenUninstallKey, Command: xen}
			}
			continue
		}
		node, err := software.Node([]string{"Microsoft", "Windows", "CurrentVersion", "Uninstall", name})
		if err != nil {
			continue
		}
		data, ok, err := node.GetValue("DisplayName")
		if err != nil || !ok {
			continue
		}
		display := decodeSZ(data)
		if !strings.Contains(display, "Parallels Tools") && !strings.Contains(display, "Virtuozzo Tools") {
			continue
		}
		cmdData, ok, err := node.GetValue("UninstallString")
		if err != nil || !ok {
			continue
		}
		pre.ParallelsUninstalls = append(pre.ParallelsUninstalls, UninstallInfo{
			DisplayName: display,
			Command:     decodeSZ(cmdData),
		})
	}

	return pre, nil
}

func readUninstallString(software hive.HiveHandle, key string) (string, error) {
	node, err := software.Node([]string{"Microsoft", "Windows", "CurrentVersion", "Uninstall", key})
	if err != nil {
		return "", verrors.New(verrors.ConversionError, "reading Uninstall\\"+key, err)
	}
	data, ok, err := node.GetValue("UninstallString")
	if err != nil {
		return "", verrors.New(verrors.ConversionError, "reading UninstallString for "+key, err)
	}
	if !ok {
		return "", nil
	}
	return decodeSZ(data), nil
}
