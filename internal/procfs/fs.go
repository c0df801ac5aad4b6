// Package procfs parses the text formats exposed by the Linux process
// information pseudo-filesystem. Parsers are pure functions over bytes so
// they can be exercised against fixtures; FS ties them to a mount point.
package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// DefaultRoot is where procfs is mounted on a normal host.
const DefaultRoot = "/proc"

// FS reads pseudo-files below a proc root.
type FS struct {
	root string
}

func NewFS(root string) FS {
	if root == "" {
		root = DefaultRoot
	}
	return FS{root: filepath.Clean(root)}
}

func (fs FS) Root() string {
	return fs.root
}

// Path joins elem onto the proc root.
func (fs FS) Path(elem ...string) string {
	return filepath.Join(append([]string{fs.root}, elem...)...)
}

func (fs FS) ReadFile(elem ...string) ([]byte, error) {
	return os.ReadFile(fs.Path(elem...))
}

// PidPath returns the path of a file inside a process directory.
func (fs FS) PidPath(pid int32, elem ...string) string {
	return fs.Path(append([]string{strconv.Itoa(int(pid))}, elem...)...)
}

func (fs FS) ReadPidFile(pid int32, name string) ([]byte, error) {
	return os.ReadFile(fs.PidPath(pid, name))
}

// Pids lists the numeric entries of the proc root in ascending order.
func (fs FS) Pids() ([]int32, error) {
	return numericEntries(fs.root)
}

// Tids lists the thread ids under a process's task directory.
func (fs FS) Tids(pid int32) ([]int32, error) {
	return numericEntries(fs.PidPath(pid, "task"))
}

func numericEntries(dir string) ([]int32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	ids := make([]int32, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, int32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
