package ovfdoc

import "path/filepath"

// Layout computes the §6.3 VDSM storage-domain paths for one disk volume.
type Layout struct {
	MountPoint string
	SDUUID     string
}

// VolumePath is images/<IMAGE_UUID>/<VOL_UUID> under the storage domain.
func (l Layout) VolumePath(imageUUID, volUUID string) string {
	return filepath.Join(l.MountPoint, l.SDUUID, "images", imageUUID, volUUID)
}

// VolumeMetaPath is the sibling .meta file for a volume.
func (l Layout) VolumeMetaPath(imageUUID, volUUID string) string {
	return l.VolumePath(imageUUID, volUUID) + ".meta"
}

// OVFPath is master/vms/<VM_UUID>/<VM_UUID>.ovf, the RHV-flavour OVF
// document location.
func (l Layout) OVFPath(vmUUID string) string {
	return filepath.Join(l.MountPoint, l.SDUUID, "master", "vms", vmUUID, vmUUID+".ovf")
}
