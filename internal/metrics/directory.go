package metrics

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirectoryLister produces live listings of a single directory.
type DirectoryLister struct {
	passwdPath string
	groupPath  string
}

func NewDirectoryLister(passwdPath, groupPath string) DirectoryLister {
	return DirectoryLister{passwdPath: passwdPath, groupPath: groupPath}
}

// NormalizePath turns path into the absolute, cleaned form used as a cache
// key. An empty path means the root directory.
func NormalizePath(path string) string {
	if path == "" {
		return string(filepath.Separator)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// List reads dir. Children that cannot be stat'ed are skipped; if dir itself
// cannot be read the listing is empty and Reason says why.
func (l DirectoryLister) List(dir string) DirectoryListing {
	dir = NormalizePath(dir)
	listing := DirectoryListing{Path: dir, Entries: []DirectoryEntry{}}

	children, err := os.ReadDir(dir)
	if err != nil {
		listing.Reason = classify(err)
		return listing
	}

	users := loadIDNames(l.passwdPath)
	groups := loadIDNames(l.groupPath)
	for _, c := range children {
		p := filepath.Join(dir, c.Name())
		info, err := os.Stat(p)
		if err != nil {
			// Dangling symlinks still describe themselves.
			if info, err = os.Lstat(p); err != nil {
				continue
			}
		}
		entry := DirectoryEntry{
			Name:        c.Name(),
			Path:        p,
			IsDir:       info.IsDir(),
			Size:        info.Size(),
			SizeHuman:   HumanBytes(info.Size()),
			ModTime:     info.ModTime(),
			Permissions: info.Mode().String(),
			Owner:       "unknown",
			Group:       "unknown",
		}
		if uid, gid, ok := fileOwner(info); ok {
			entry.Owner = users.name(uid)
			entry.Group = groups.name(gid)
		}
		listing.Entries = append(listing.Entries, entry)
	}

	sort.SliceStable(listing.Entries, func(i, j int) bool {
		a, b := listing.Entries[i], listing.Entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return listing
}
