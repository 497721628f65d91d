package storage

import (
	"bytes"
	"testing"
)

func TestLayeredStorage(t *testing.T) {
	back, err := NewFSStorage(&StorageOptions{Type: "fs", Endpoint: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	front, err := NewFSStorage(&StorageOptions{Type: "fs", Endpoint: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	layered := NewLayeredStorage(front, back)

	err = back.Put("-/esm.sh/react.js", bytes.NewBufferString("export default {}"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = front.Stat("-/esm.sh/react.js")
	if err != ErrNotFound {
		t.Fatal("record should not be in the front storage")
	}

	fi, err := layered.Stat("-/esm.sh/react.js")
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 17 {
		t.Fatalf("invalid file size(%d), shoud be 17", fi.Size())
	}

	data, err := ReadAll(layered, "-/esm.sh/react.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "export default {}" {
		t.Fatalf("invalid file content('%s')", string(data))
	}

	data, err = ReadAll(front, "-/esm.sh/react.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "export default {}" {
		t.Fatalf("record should be copied to the front storage, got '%s'", string(data))
	}

	err = layered.Put("-/esm.sh/vue.js", bytes.NewBufferString("export {}"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = back.Stat("-/esm.sh/vue.js"); err != nil {
		t.Fatal(err)
	}
	if _, err = front.Stat("-/esm.sh/vue.js"); err != nil {
		t.Fatal(err)
	}

	_, _, err = layered.Get("-/esm.sh/preact.js")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
