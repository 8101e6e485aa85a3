package converters

import (
	"encoding/base64"
	"time"

	"github.com/feichai0017/photomaster/internal/models"
)

// Manifest is the JSON view of a processed batch.
type Manifest struct {
	BatchID     string               `json:"batchId"`
	Status      string               `json:"status"`
	Images      []ImageEntry         `json:"images"`
	Skipped     []models.SkippedItem `json:"skipped"`
	Errors      []string             `json:"errors"`
	Archive     string               `json:"archive"`
	ProcessedAt time.Time            `json:"processedAt"`
}

// ImageEntry describes one emitted image.
type ImageEntry struct {
	Position         int    `json:"position"`
	Name             string `json:"name"`
	FileName         string `json:"fileName"`
	MIMEType         string `json:"mimeType"`
	Size             int    `json:"size"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	ForegroundWidth  int    `json:"foregroundWidth,omitempty"`
	ForegroundHeight int    `json:"foregroundHeight,omitempty"`
	// Data is the base64 image, set only when previews are requested.
	Data string `json:"data,omitempty"`
}

// ManifestConverter 将批处理结果转换为 JSON 清单
type ManifestConverter struct {
	// IncludeData embeds base64 image bytes in each entry.
	IncludeData bool
}

func NewManifestConverter(includeData bool) *ManifestConverter {
	return &ManifestConverter{IncludeData: includeData}
}

func (c *ManifestConverter) Convert(batchID string, outputs []models.Output, skipped []models.SkippedItem, issues []string) *Manifest {
	m := &Manifest{
		BatchID:     batchID,
		Status:      "completed",
		Images:      make([]ImageEntry, 0, len(outputs)),
		Skipped:     skipped,
		Errors:      issues,
		Archive:     "all_images.zip",
		ProcessedAt: time.Now(),
	}
	if m.Skipped == nil {
		m.Skipped = []models.SkippedItem{}
	}
	if m.Errors == nil {
		m.Errors = []string{}
	}

	for i, out := range outputs {
		entry := ImageEntry{
			Position:         i + 1,
			Name:             out.Name,
			FileName:         out.FileName(),
			MIMEType:         out.MIMEType(),
			Size:             len(out.Data),
			Width:            out.Width,
			Height:           out.Height,
			ForegroundWidth:  out.ForegroundWidth,
			ForegroundHeight: out.ForegroundHeight,
		}
		if c.IncludeData {
			entry.Data = base64.StdEncoding.EncodeToString(out.Data)
		}
		m.Images = append(m.Images, entry)
	}

	return m
}
