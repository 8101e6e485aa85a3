package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/feichai0017/photomaster/internal/models"
)

const (
	ExtPNG  = "png"
	ExtJPEG = "jpeg"
)

// DefaultJPEGQuality is used by the flatten path when no quality is configured.
const DefaultJPEGQuality = 90

// Encoded is the output of a pipeline stage.
type Encoded struct {
	Data   []byte
	Ext    string
	Width  int
	Height int
}

// Decode decodes any registered image format.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", models.ErrUndecodable)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUndecodable, err)
	}
	return img, nil
}

// EncodePNG encodes img losslessly with its alpha channel.
func EncodePNG(img image.Image) (Encoded, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return Encoded{}, fmt.Errorf("failed to encode png: %w", err)
	}
	b := img.Bounds()
	return Encoded{Data: buf.Bytes(), Ext: ExtPNG, Width: b.Dx(), Height: b.Dy()}, nil
}

// EncodeJPEG encodes img without alpha. Callers flatten first.
func EncodeJPEG(img image.Image, quality int) (Encoded, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Encoded{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	b := img.Bounds()
	return Encoded{Data: buf.Bytes(), Ext: ExtJPEG, Width: b.Dx(), Height: b.Dy()}, nil
}

// HasAlphaChannel reports whether a decoded image carries an alpha channel,
// whether or not any pixel actually uses it.
// 标准库解码器对不透明的真彩色图返回 *image.RGBA，所以 RGBA 不算带 alpha。
func HasAlphaChannel(img image.Image) bool {
	switch m := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.NYCbCrA, *image.Alpha, *image.Alpha16:
		return true
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Flatten composites img over an opaque white canvas of the same size.
func Flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}
