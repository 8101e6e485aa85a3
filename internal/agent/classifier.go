package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/feichai0017/photomaster/internal/agent/source"
	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

// 扩展名到 MIME 类型的映射
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".pdf":  "application/pdf",
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// MIMEForFilename returns the MIME type registered for a filename's extension.
func MIMEForFilename(name string) (string, bool) {
	mime, ok := extToMIME[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}

// KindOf maps a single filename to its upload kind.
func KindOf(name string) (models.UploadKind, error) {
	mime, ok := MIMEForFilename(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedType, name)
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.KindImages, nil
	case mime == "application/pdf":
		return models.KindDocument, nil
	default:
		return models.KindSpreadsheet, nil
	}
}

// Classify returns the single kind shared by all files.
func Classify(files []models.Upload) (models.UploadKind, error) {
	if len(files) == 0 {
		return models.KindImages, nil
	}

	var kind models.UploadKind
	for _, f := range files {
		k, err := KindOf(f.Filename)
		if err != nil {
			return "", err
		}
		if kind != "" && k != kind {
			return "", models.ErrMixedUpload
		}
		kind = k
	}
	return kind, nil
}

// Intake classifies an upload set and expands it into batch items.
type Intake struct {
	resolver *source.Resolver
	logger   logger.Logger
}

func NewIntake(resolver *source.Resolver, log logger.Logger) *Intake {
	if log == nil {
		log = logger.NewNop()
	}
	return &Intake{
		resolver: resolver,
		logger:   log.Named("intake"),
	}
}

// Items returns the batch items of files. Mixed kinds are rejected.
func (i *Intake) Items(ctx context.Context, files []models.Upload) (source.Expansion, error) {
	kind, err := Classify(files)
	if err != nil {
		i.logger.Warn("Upload rejected", logger.Error(err))
		return source.Expansion{}, err
	}

	i.logger.Info("Classified upload",
		logger.String("kind", string(kind)),
		logger.Int("files", len(files)),
	)

	return i.resolver.Expand(ctx, kind, files)
}

// Resolver exposes the resolver used for per-item resolution.
func (i *Intake) Resolver() *source.Resolver {
	return i.resolver
}
