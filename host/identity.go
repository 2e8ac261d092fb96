package host

import (
	"os"

	"golang.org/x/sys/unix"
)

// Identity describes the managed host.
type Identity struct {
	Hostname      string `json:"hostname"`
	Distro        string `json:"distro"`
	DistroVersion string `json:"distro_version"`
	Family        string `json:"family"`
	Arch          string `json:"arch"`
	Kernel        string `json:"kernel"`
}

// Identify reads the host identity. A missing os-release file leaves the
// distribution fields empty.
func Identify(fs *FS) (*Identity, error) {
	id := &Identity{}
	var err error
	if id.Hostname, err = os.Hostname(); err != nil {
		return nil, err
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, err
	}
	id.Arch = unix.ByteSliceToString(uts.Machine[:])
	id.Kernel = unix.ByteSliceToString(uts.Release[:])

	data, err := fs.ReadFile("/etc/os-release")
	if err != nil {
		return nil, err
	}
	rel := ParseOSRelease(data)
	id.Distro = rel["ID"]
	id.DistroVersion = rel["VERSION_ID"]
	id.Family = rel.Family()
	return id, nil
}
