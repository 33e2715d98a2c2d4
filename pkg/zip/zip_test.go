package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssetsRoundTrip(t *testing.T) {
	archive, err := ArchiveAssets([]Asset{
		{Filename: "task-1.png", Data: []byte{0x89, 'P', 'N', 'G'}},
		{Filename: "task-2.png", Data: []byte("second")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets() error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive entries = %d, want 2", len(zr.File))
	}
	if zr.File[0].Name != "task-1.png" {
		t.Fatalf("first entry = %q, want task-1.png", zr.File[0].Name)
	}
	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatalf("opening entry: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading entry: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("entry data = %q, want second", data)
	}
}

func TestArchiveAssetsEmpty(t *testing.T) {
	archive, err := ArchiveAssets(nil)
	if err != nil {
		t.Fatalf("ArchiveAssets(nil) error: %v", err)
	}
	if _, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive))); err != nil {
		t.Fatalf("empty archive not readable: %v", err)
	}
}
