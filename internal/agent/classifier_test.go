package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/photomaster/internal/agent/source"
	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

func uploads(names ...string) []models.Upload {
	out := make([]models.Upload, len(names))
	for i, n := range names {
		out[i] = models.Upload{Filename: n, Data: []byte("x")}
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		files   []models.Upload
		want    models.UploadKind
		wantErr error
	}{
		{"images", uploads("a.png", "b.JPG", "c.webp"), models.KindImages, nil},
		{"one spreadsheet", uploads("links.xlsx"), models.KindSpreadsheet, nil},
		{"two spreadsheets", uploads("a.csv", "b.xlsx"), models.KindSpreadsheet, nil},
		{"document", uploads("report.pdf"), models.KindDocument, nil},
		{"empty", nil, models.KindImages, nil},
		{"image and spreadsheet", uploads("a.png", "links.csv"), "", models.ErrMixedUpload},
		{"image and pdf", uploads("report.pdf", "a.png"), "", models.ErrMixedUpload},
		{"unknown extension", uploads("a.png", "notes.txt"), "", models.ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.files)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMIMEForFilename(t *testing.T) {
	mime, ok := MIMEForFilename("photo.JPEG")
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", mime)

	_, ok = MIMEForFilename("archive.zip")
	assert.False(t, ok)
}

func TestIntakeItems(t *testing.T) {
	log := logger.NewTestLogger()
	in := NewIntake(source.NewResolver(nil, nil, log), log)

	exp, err := in.Items(context.Background(), uploads("a.png", "b.png"))
	require.NoError(t, err)
	assert.Len(t, exp.Items, 2)

	_, err = in.Items(context.Background(), uploads("a.png", "l.csv"))
	assert.ErrorIs(t, err, models.ErrMixedUpload)
	assert.Contains(t, log.Messages("WARN"), "Upload rejected")
}
