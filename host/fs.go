package host

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FS is the managed filesystem rooted at Root, which is "/" in production
// and a scratch directory in tests. All paths passed to FS are absolute
// paths on the managed host.
type FS struct {
	Root string
	// Chown enables ownership changes, which only work as root.
	Chown bool
}

// NewFS returns the host root filesystem.
func NewFS() *FS {
	return &FS{Root: "/", Chown: os.Geteuid() == 0}
}

// Path maps a host path to the local path.
func (f *FS) Path(p string) string {
	return filepath.Join(f.Root, p)
}

// FileInfo is what the reconciler needs to know about a file.
type FileInfo struct {
	Mode  os.FileMode
	UID   int
	GID   int
	IsDir bool
}

// Stat returns nil, nil when p does not exist.
func (f *FS) Stat(p string) (*FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(f.Path(p), &st); err != nil {
		if err == unix.ENOENT {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "stat %s", p)
	}
	return &FileInfo{
		Mode:  os.FileMode(st.Mode & 0777),
		UID:   int(st.Uid),
		GID:   int(st.Gid),
		IsDir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}

// ReadFile returns nil, nil when p does not exist.
func (f *FS) ReadFile(p string) ([]byte, error) {
	data, err := os.ReadFile(f.Path(p))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// WriteFile atomically replaces p with data: it writes a temporary file
// in the same directory, syncs it and renames it over p.
func (f *FS) WriteFile(p string, data []byte, mode os.FileMode, owner string) error {
	dest := f.Path(p)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath) // no-op if rename succeeded
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Chmod(mode); err != nil {
		return errors.Wrap(err, "failed to chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := f.chown(tmpPath, owner); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}

// EnsureDir creates p with the given mode and owner, fixing the mode and
// owner of an existing directory. It reports whether anything changed.
func (f *FS) EnsureDir(p string, mode os.FileMode, owner string) (bool, error) {
	info, err := f.Stat(p)
	if err != nil {
		return false, err
	}
	if info != nil && !info.IsDir {
		return false, errors.Errorf("%s exists and is not a directory", p)
	}
	changed := false
	if info == nil {
		if err := os.MkdirAll(f.Path(p), mode); err != nil {
			return false, errors.Wrapf(err, "creating %s", p)
		}
		changed = true
	}
	if info == nil || info.Mode != mode {
		if err := os.Chmod(f.Path(p), mode); err != nil {
			return false, errors.Wrapf(err, "chmod %s", p)
		}
		changed = true
	}
	if f.Chown && owner != "" {
		uid, gid, err := lookupOwner(owner)
		if err != nil {
			return false, err
		}
		if info == nil || info.UID != uid || info.GID != gid {
			if err := os.Chown(f.Path(p), uid, gid); err != nil {
				return false, errors.Wrapf(err, "chown %s", p)
			}
			changed = true
		}
	}
	return changed, nil
}

// OwnedBy reports whether info matches owner. It is always true when FS
// does not manage ownership.
func (f *FS) OwnedBy(info *FileInfo, owner string) (bool, error) {
	if !f.Chown || owner == "" {
		return true, nil
	}
	uid, gid, err := lookupOwner(owner)
	if err != nil {
		return false, err
	}
	return info.UID == uid && info.GID == gid, nil
}

func (f *FS) chown(path, owner string) error {
	if !f.Chown || owner == "" {
		return nil
	}
	uid, gid, err := lookupOwner(owner)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.Chown(path, uid, gid), "chown %s", path)
}

func lookupOwner(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "looking up user %s", name)
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	return uid, gid, nil
}
