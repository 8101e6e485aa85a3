package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/photomaster/internal/models"
)

// Segmenter separates a foreground subject from its background.
// The returned image carries transparent pixels outside the subject.
// Service failures wrap models.ErrSegmenter; an unreadable cutout wraps models.ErrUndecodable.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (image.Image, error)
}

type SegmenterConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// RembgSegmenter calls a rembg-compatible HTTP service.
type RembgSegmenter struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

func NewRembgSegmenter(config *SegmenterConfig) *RembgSegmenter {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RembgSegmenter{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		model:    config.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *RembgSegmenter) Segment(ctx context.Context, img image.Image) (image.Image, error) {
	// 以 PNG 上传，保留原始透明度
	imgBuf := new(bytes.Buffer)
	if err := imaging.Encode(imgBuf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "input.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, imgBuf); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return nil, fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/remove", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", models.ErrSegmenter, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: unexpected status code %d: %s", models.ErrSegmenter, resp.StatusCode, string(msg))
	}

	out, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode segmenter response: %v", models.ErrUndecodable, err)
	}
	return out, nil
}

func (s *RembgSegmenter) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

var (
	sharedOnce      sync.Once
	sharedSegmenter Segmenter
)

// SharedSegmenter returns the process-wide segmenter, created on first use.
// Later calls ignore config.
func SharedSegmenter(config *SegmenterConfig) Segmenter {
	sharedOnce.Do(func() {
		sharedSegmenter = NewRembgSegmenter(config)
	})
	return sharedSegmenter
}
