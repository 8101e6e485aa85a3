package image

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

// Remover strips backgrounds with a Segmenter. Inference runs one call at a time.
type Remover struct {
	segmenter Segmenter
	logger    logger.Logger
	mu        sync.Mutex
}

func NewRemover(segmenter Segmenter, log logger.Logger) (*Remover, error) {
	if segmenter == nil {
		return nil, fmt.Errorf("segmenter is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Remover{
		segmenter: segmenter,
		logger:    log.Named("remover"),
	}, nil
}

// Remove returns a PNG cutout of data.
func (r *Remover) Remove(ctx context.Context, data []byte) (Encoded, error) {
	img, err := Decode(data)
	if err != nil {
		return Encoded{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	cutout, err := r.segmenter.Segment(ctx, img)
	if err != nil {
		r.logger.Error("Segmentation failed", logger.Error(err))
		if errors.Is(err, models.ErrUndecodable) || errors.Is(err, models.ErrSegmenter) {
			return Encoded{}, err
		}
		return Encoded{}, fmt.Errorf("%w: %w", models.ErrSegmenter, err)
	}
	if cutout == nil {
		return Encoded{}, models.ErrEmptyOutput
	}

	return EncodePNG(imaging.Clone(cutout))
}
