package batch

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/feichai0017/photomaster/internal/models"
)

// ArchiveName is the download filename of a batch archive.
const ArchiveName = "all_images.zip"

// WriteArchive writes outputs as a flat zip keyed by Output.FileName.
// Zero outputs produce a valid empty archive.
func WriteArchive(w io.Writer, outputs []models.Output) error {
	zw := zip.NewWriter(w)
	now := time.Now()

	for _, out := range outputs {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     out.FileName(),
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return fmt.Errorf("failed to create archive entry %s: %w", out.FileName(), err)
		}
		if _, err := fw.Write(out.Data); err != nil {
			return fmt.Errorf("failed to write archive entry %s: %w", out.FileName(), err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// BuildArchive returns the zip bytes for outputs.
func BuildArchive(outputs []models.Output) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, outputs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
