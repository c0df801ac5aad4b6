package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

func TestProcessIoRead(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	regular := filepath.Join(target, "data.db")
	writeFile(t, regular, "x")
	sub := filepath.Join(target, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(target, "link")
	if err := os.Symlink(regular, link); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(root, "42", "io"), "rchar: 100\nwchar: 200\nsyscr: 3\nsyscw: 4\nread_bytes: 4096\nwrite_bytes: 8192\ncancelled_write_bytes: 0\n")
	fdDir := filepath.Join(root, "42", "fd")
	links := map[string]string{
		"0":  "/dev/null",
		"3":  regular,
		"4":  "socket:[12345]",
		"10": sub,
		"5":  link,
		"6":  filepath.Join(target, "deleted"),
		"7":  "/",
	}
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for fd, dst := range links {
		if err := os.Symlink(dst, filepath.Join(fdDir, fd)); err != nil {
			t.Fatal(err)
		}
	}

	info := NewProcessIoReader(procfs.NewFS(root)).Read(42)
	if info.Pid != 42 || info.Empty() {
		t.Fatalf("info = %+v", info)
	}
	want := IoCounters{Rchar: 100, Wchar: 200, Syscr: 3, Syscw: 4, ReadBytes: 4096, WriteBytes: 8192}
	if info.Stats == nil || *info.Stats != want {
		t.Fatalf("stats = %+v", info.Stats)
	}

	wantTypes := []struct {
		fd  int
		typ FileType
	}{
		{0, FileTypeSpecial},
		{3, FileTypeRegular},
		{4, FileTypeSpecial},
		{5, FileTypeSymlink},
		{6, FileTypeUnknown},
		{7, FileTypeMountPoint},
		{10, FileTypeDirectory},
	}
	if len(info.OpenFiles) != len(wantTypes) {
		t.Fatalf("open files = %+v", info.OpenFiles)
	}
	for i, w := range wantTypes {
		f := info.OpenFiles[i]
		if f.FD != w.fd || f.Type != w.typ {
			t.Errorf("open file %d = %+v, want fd %d type %q", i, f, w.fd, w.typ)
		}
	}
	if info.OpenFiles[2].Target != "socket:[12345]" {
		t.Fatalf("target = %q", info.OpenFiles[2].Target)
	}
}

func TestProcessIoReadMissingProcess(t *testing.T) {
	info := NewProcessIoReader(procfs.NewFS(t.TempDir())).Read(7)
	if !info.Empty() || info.Stats != nil || info.OpenFiles == nil {
		t.Fatalf("info = %+v", info)
	}
}
