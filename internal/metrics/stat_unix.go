//go:build unix

package metrics

import (
	"errors"
	"io/fs"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

// fileOwner returns the owning uid and gid recorded in info, so owner and
// size always describe the same inode.
func fileOwner(info fs.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

// isMountPoint reports whether dir sits on a different device than its
// parent, or is the root.
func isMountPoint(dir string) (bool, error) {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if parent == dir {
		return true, nil
	}
	var st, pst unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return false, err
	}
	if err := unix.Stat(parent, &pst); err != nil {
		return false, err
	}
	return uint64(st.Dev) != uint64(pst.Dev) || st.Ino == pst.Ino, nil
}
