package storage

import (
	"bytes"
	"io"
	"os"
	"path"
	"testing"

	"github.com/ije/gox/crypto/rand"
)

func TestFSStorage(t *testing.T) {
	root := path.Join(os.TempDir(), "storage_test_"+rand.Hex.String(8))
	fs, err := NewFSStorage(&StorageOptions{Type: "fs", Endpoint: root})
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	err = fs.Put("index.meta.json", bytes.NewBufferString("{}"))
	if err != nil {
		t.Fatal(err)
	}

	err = fs.Put("pages/index.0123456789.js", bytes.NewBufferString("export default 1"))
	if err != nil {
		t.Fatal(err)
	}

	fi, err := fs.Stat("pages/index.0123456789.js")
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 16 {
		t.Fatalf("invalid file size(%d), shoud be 16", fi.Size())
	}

	// overwrite
	err = fs.Put("pages/index.0123456789.js", bytes.NewBufferString("export default 42"))
	if err != nil {
		t.Fatal(err)
	}

	f, fi, err := fs.Get("pages/index.0123456789.js")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if fi.Size() != 17 {
		t.Fatalf("invalid file size(%d), shoud be 17", fi.Size())
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "export default 42" {
		t.Fatalf("invalid file content('%s'), shoud be 'export default 42'", string(data))
	}

	keys, err := fs.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("invalid keys count(%d), shoud be 2 %v", len(keys), keys)
	}

	keys, err = fs.List("pages/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "pages/index.0123456789.js" {
		t.Fatalf("invalid keys %v, shoud be [pages/index.0123456789.js]", keys)
	}

	_, err = fs.Stat("pages")
	if err != ErrNotFound {
		t.Fatalf("directory should not be a record")
	}

	err = fs.Put("../escape.txt", bytes.NewBufferString("x"))
	if err == nil {
		t.Fatalf("key escaping the root should be rejected")
	}

	err = fs.Delete("index.meta.json")
	if err != nil {
		t.Fatal(err)
	}

	_, err = fs.Stat("index.meta.json")
	if err != ErrNotFound {
		t.Fatalf("File should be not existent")
	}

	err = fs.Delete("index.meta.json")
	if err != ErrNotFound {
		t.Fatalf("deleting a missing record should return ErrNotFound, got %v", err)
	}

	deletedKeys, err := fs.DeleteAll("pages/")
	if err != nil {
		t.Fatal(err)
	}
	if len(deletedKeys) != 1 {
		t.Fatalf("invalid deleted keys count(%d), shoud be 1", len(deletedKeys))
	}

	keys, err = fs.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("invalid keys count(%d), shoud be 0", len(keys))
	}
}

func TestFSStorageFailedPutKeepsOldRecord(t *testing.T) {
	fs, err := NewFSStorage(&StorageOptions{Endpoint: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	err = fs.Put("a.js", bytes.NewBufferString("old"))
	if err != nil {
		t.Fatal(err)
	}

	err = fs.Put("a.js", io.MultiReader(bytes.NewBufferString("new"), errReader{}))
	if err == nil {
		t.Fatal("Expected error, but got nil")
	}

	data, err := ReadAll(fs, "a.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old" {
		t.Fatalf("invalid file content('%s'), shoud be 'old'", string(data))
	}

	keys, err := fs.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("temporary files should be cleaned up, got %v", keys)
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
