package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

const (
	// BaseDPI is the native PDF resolution.
	BaseDPI         = 72.0
	DefaultZoom     = 1.45
	DefaultMaxPages = 200
)

// PageRenderer rasterizes the first limit pages of a PDF. A limit below one renders nothing.
type PageRenderer interface {
	Render(ctx context.Context, data []byte, dpi float64, limit int) ([]image.Image, error)
}

// FitzRenderer renders pages with MuPDF.
type FitzRenderer struct{}

func (FitzRenderer) Render(ctx context.Context, data []byte, dpi float64, limit int) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUndecodable, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n > limit {
		n = limit
	}
	if n < 0 {
		n = 0
	}

	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// DocumentInfo is what inspection learns about a PDF before rendering.
type DocumentInfo struct {
	Pages int
	Title string
}

// InspectPDF reads the page count and title of a PDF.
// A document without pages is undecodable.
func InspectPDF(data []byte) (info DocumentInfo, err error) {
	// ledongthuc/pdf panics on broken xref tables and dangling references.
	defer func() {
		if r := recover(); r != nil {
			info, err = DocumentInfo{}, fmt.Errorf("%w: %v", models.ErrUndecodable, r)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("%w: %v", models.ErrUndecodable, err)
	}

	info = DocumentInfo{Pages: pdfReader.NumPage()}
	if info.Pages <= 0 {
		return DocumentInfo{}, fmt.Errorf("%w: document has no pages", models.ErrUndecodable)
	}

	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		if meta := trailer.Key("Info"); !meta.IsNull() {
			if title := meta.Key("Title"); !title.IsNull() {
				info.Title = title.Text()
			}
		}
	}
	return info, nil
}

// PageName returns "<base>_page_<n>.jpg" for a 1-based page number.
func PageName(docName string, page int) string {
	base := filepath.Base(docName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_page_%d.jpg", base, page)
}

type DocumentConfig struct {
	Zoom        float64
	MaxPages    int
	JPEGQuality int
}

// DocumentSource expands a PDF into one page item per page.
type DocumentSource struct {
	renderer PageRenderer
	cfg      DocumentConfig
	logger   logger.Logger
}

func NewDocumentSource(renderer PageRenderer, cfg DocumentConfig, log logger.Logger) *DocumentSource {
	if renderer == nil {
		renderer = FitzRenderer{}
	}
	if cfg.Zoom <= 0 {
		cfg.Zoom = DefaultZoom
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DocumentSource{
		renderer: renderer,
		cfg:      cfg,
		logger:   log.Named("document"),
	}
}

// Pages renders every page of the document as a JPEG page item.
func (d *DocumentSource) Pages(ctx context.Context, name string, data []byte) ([]models.BatchItem, error) {
	info, err := InspectPDF(data)
	if err != nil {
		return nil, err
	}

	limit := info.Pages
	if limit > d.cfg.MaxPages {
		d.logger.Warn("Document exceeds page limit, truncating",
			logger.String("name", name),
			logger.Int("pages", info.Pages),
			logger.Int("maxPages", d.cfg.MaxPages),
		)
		limit = d.cfg.MaxPages
	}

	d.logger.Info("Rendering document",
		logger.String("name", name),
		logger.String("title", info.Title),
		logger.Int("pages", limit),
	)

	images, err := d.renderer.Render(ctx, data, BaseDPI*d.cfg.Zoom, limit)
	if err != nil {
		return nil, err
	}

	items := make([]models.BatchItem, 0, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(d.cfg.JPEGQuality)); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		items = append(items, models.PageItem(PageName(name, i+1), i+1, buf.Bytes()))
	}
	return items, nil
}
