package image

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

// CoverageRatio is the share of the canvas area an auto-scaled foreground occupies.
const CoverageRatio = 0.8

// Canvas is a background already resized to CanvasSize. It is never mutated.
type Canvas struct {
	img *image.NRGBA
}

// PrepareCanvas decodes a background and stretches it to the canvas size.
func PrepareCanvas(background []byte) (*Canvas, error) {
	img, err := Decode(background)
	if err != nil {
		return nil, err
	}
	return &Canvas{img: imaging.Resize(img, CanvasSize, CanvasSize, imaging.CatmullRom)}, nil
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// ScaleParams controls foreground sizing.
type ScaleParams struct {
	Resize     bool
	Adjustment float64
	Mode       models.OverflowMode
}

// ParamsFromOptions extracts the compositor parameters of a batch.
func ParamsFromOptions(opts models.Options) ScaleParams {
	return ScaleParams{
		Resize:     opts.ResizeForeground,
		Adjustment: opts.ScalingAdjustment,
		Mode:       opts.OverflowMode,
	}
}

// ScaleForeground computes the applied foreground size for a w x h cutout.
func ScaleForeground(w, h int, p ScaleParams) (int, int) {
	if !p.Resize || w <= 0 || h <= 0 {
		return w, h
	}

	s := math.Sqrt(CoverageRatio * float64(CanvasSize*CanvasSize) / float64(w*h))
	if p.Mode == models.OverflowClamp {
		s = math.Min(s, math.Min(float64(CanvasSize)/float64(w), float64(CanvasSize)/float64(h)))
	}

	nw := int(float64(w) * s)
	nh := int(float64(h) * s)

	if p.Mode != models.OverflowClamp && (nw > CanvasSize || nh > CanvasSize) {
		nw = int(float64(nw) * p.Adjustment / 100)
		nh = int(float64(nh) * p.Adjustment / 100)
	}

	return max(nw, 1), max(nh, 1)
}

// CenterOffset returns the top-left paste position; it may be negative.
func CenterOffset(canvas image.Rectangle, w, h int) image.Point {
	return image.Pt(floorDiv(canvas.Dx()-w, 2), floorDiv(canvas.Dy()-h, 2))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Composited is a compositor result with the applied foreground size.
type Composited struct {
	Encoded
	ForegroundWidth  int
	ForegroundHeight int
}

type Compositor struct {
	logger logger.Logger
}

func NewCompositor(log logger.Logger) *Compositor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Compositor{logger: log.Named("compositor")}
}

// Composite places foreground centered on background. The background is
// prepared on every call; batches should use PrepareCanvas and CompositeOnto.
func (c *Compositor) Composite(ctx context.Context, foreground, background []byte, p ScaleParams) (Composited, error) {
	canvas, err := PrepareCanvas(background)
	if err != nil {
		return Composited{}, err
	}
	return c.CompositeOnto(ctx, foreground, canvas, p)
}

// CompositeOnto places foreground centered on a prepared canvas, using the
// foreground alpha as the blend mask, and encodes PNG.
func (c *Compositor) CompositeOnto(ctx context.Context, foreground []byte, canvas *Canvas, p ScaleParams) (Composited, error) {
	if err := ctx.Err(); err != nil {
		return Composited{}, err
	}

	fg, err := Decode(foreground)
	if err != nil {
		return Composited{}, err
	}
	fgb := fg.Bounds()

	w, h := ScaleForeground(fgb.Dx(), fgb.Dy(), p)
	var scaled image.Image = fg
	if w != fgb.Dx() || h != fgb.Dy() {
		scaled = imaging.Resize(fg, w, h, imaging.CatmullRom)
	}

	pos := CenterOffset(canvas.Bounds(), w, h)
	c.logger.Debug("Compositing foreground",
		logger.Int("width", w),
		logger.Int("height", h),
		logger.Int("x", pos.X),
		logger.Int("y", pos.Y),
	)

	// Overlay 返回新图像，画布保持不变
	out := imaging.Overlay(canvas.img, scaled, pos, 1.0)

	enc, err := EncodePNG(out)
	if err != nil {
		return Composited{}, err
	}
	return Composited{Encoded: enc, ForegroundWidth: w, ForegroundHeight: h}, nil
}
