// Package zip builds in-memory zip archives for result downloads.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Asset is one file to place in an archive.
type Asset struct {
	Filename string
	Data     []byte
}

// ArchiveAssets writes the assets into a single zip archive and returns its
// bytes.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create entry %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write entry %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
