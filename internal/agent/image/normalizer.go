package image

import (
	"context"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/photomaster/pkg/logger"
)

const (
	CanvasSize   = 1024
	BannerWidth  = 1290
	BannerHeight = 789
)

// TargetSize returns the canonical size for an item name.
func TargetSize(name string) (int, int) {
	if strings.Contains(strings.ToLower(name), "banner") {
		return BannerWidth, BannerHeight
	}
	return CanvasSize, CanvasSize
}

// Normalizer stretches images to their canonical size.
type Normalizer struct {
	logger      logger.Logger
	jpegQuality int
}

func NewNormalizer(log logger.Logger, jpegQuality int) *Normalizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Normalizer{
		logger:      log.Named("normalizer"),
		jpegQuality: jpegQuality,
	}
}

// Normalize resizes data to TargetSize(name) without preserving aspect ratio.
// When compositing is false and the decoded image has an alpha channel, it is
// flattened onto white and encoded as JPEG; otherwise the result is PNG.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, name string, compositing bool) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	img, err := Decode(data)
	if err != nil {
		return Encoded{}, err
	}

	flatten := !compositing && HasAlphaChannel(img)

	w, h := TargetSize(name)
	resized := imaging.Resize(img, w, h, imaging.CatmullRom)

	if flatten {
		n.logger.Debug("Flattening alpha image",
			logger.String("name", name),
		)
		return EncodeJPEG(Flatten(resized), n.jpegQuality)
	}
	return EncodePNG(resized)
}
