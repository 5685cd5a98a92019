package tarfs

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/Qwinci/crescent-sub002/ustr"
)

func buildArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	files := []struct {
		name string
		dir  bool
		body string
	}{
		{name: "bin/", dir: true},
		{name: "bin/init", body: "#!/bin/init\n"},
		{name: "etc/", dir: true},
		{name: "etc/motd", body: "hello from initramfs\n"},
	}
	for _, f := range files {
		typ := byte(tar.TypeReg)
		size := int64(len(f.body))
		if f.dir {
			typ = tar.TypeDir
			size = 0
		}
		hdr := &tar.Header{Name: f.name, Typeflag: typ, Size: size, Mode: 0644}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if !f.dir {
			if _, err := tw.Write([]byte(f.body)); err != nil {
				t.Fatalf("write body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

func TestLookupAndReadFile(t *testing.T) {
	fs, err := New(bytes.NewReader(buildArchive(t)))
	if err != 0 {
		t.Fatalf("parse: %v", err)
	}
	root := fs.Root()
	bin, err := root.Lookup(ustr.MkUstr("bin"))
	if err != 0 {
		t.Fatalf("lookup bin: %v", err)
	}
	initNode, err := bin.Lookup(ustr.MkUstr("init"))
	if err != 0 {
		t.Fatalf("lookup init: %v", err)
	}
	buf := make([]byte, 64)
	n, err := initNode.Read(buf, 0)
	if err != 0 {
		t.Fatalf("read init: %v", err)
	}
	if string(buf[:n]) != "#!/bin/init\n" {
		t.Fatalf("unexpected content: %q", buf[:n])
	}
}

func TestLookupMissingReturnsNotExists(t *testing.T) {
	fs, _ := New(bytes.NewReader(buildArchive(t)))
	if _, err := fs.Root().Lookup(ustr.MkUstr("nope")); err == 0 {
		t.Fatalf("expected error for missing entry")
	}
}

func TestListDirReturnsDirectChildrenOnly(t *testing.T) {
	fs, _ := New(bytes.NewReader(buildArchive(t)))
	root := fs.Root()
	entries, err := root.ListDir()
	if err != 0 {
		t.Fatalf("listdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 direct children of root, got %d: %v", len(entries), entries)
	}
}
