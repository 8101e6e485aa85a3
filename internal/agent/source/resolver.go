package source

import (
	"context"
	"fmt"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

// Resolver turns batch items into named bytes and expands uploads into items.
type Resolver struct {
	fetcher   *Fetcher
	documents *DocumentSource
	logger    logger.Logger
}

func NewResolver(fetcher *Fetcher, documents *DocumentSource, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	if fetcher == nil {
		fetcher = NewFetcher(FetcherConfig{}, log)
	}
	if documents == nil {
		documents = NewDocumentSource(nil, DocumentConfig{}, log)
	}
	return &Resolver{
		fetcher:   fetcher,
		documents: documents,
		logger:    log.Named("resolver"),
	}
}

// Resolve returns the bytes of item under its name.
func (r *Resolver) Resolve(ctx context.Context, item models.BatchItem) (models.Asset, error) {
	switch item.Kind {
	case models.SourceInline, models.SourcePage:
		if len(item.Data) == 0 {
			return models.Asset{}, fmt.Errorf("%w: %s is empty", models.ErrUndecodable, item.Name)
		}
		return models.Asset{Name: item.Name, Data: item.Data}, nil
	case models.SourceLink:
		url := ConvertDriveLink(item.Link)
		data, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			return models.Asset{}, err
		}
		return models.Asset{Name: item.Name, Data: data}, nil
	default:
		return models.Asset{}, fmt.Errorf("%w: unknown source kind %q", models.ErrUnsupportedType, item.Kind)
	}
}

// Expansion is the result of turning an upload set into batch items.
type Expansion struct {
	Items []models.BatchItem
	// Issues are per-file or per-sheet problems that did not stop the batch.
	Issues []error
}

// Expand converts uploads of a single kind into batch items.
func (r *Resolver) Expand(ctx context.Context, kind models.UploadKind, files []models.Upload) (Expansion, error) {
	var exp Expansion

	switch kind {
	case models.KindImages:
		for _, f := range files {
			exp.Items = append(exp.Items, models.InlineItem(f.Filename, f.Data))
		}

	case models.KindSpreadsheet:
		for _, f := range files {
			res, err := ParseSheet(f.Filename, f.Data)
			if err != nil {
				r.logger.Warn("Spreadsheet rejected", logger.String("file", f.Filename), logger.Error(err))
				exp.Issues = append(exp.Issues, err)
				continue
			}
			for _, e := range res.Errors {
				r.logger.Warn("Sheet rejected", logger.String("file", f.Filename), logger.Error(e))
			}
			exp.Items = append(exp.Items, res.Items...)
			exp.Issues = append(exp.Issues, res.Errors...)
		}

	case models.KindDocument:
		for _, f := range files {
			pages, err := r.documents.Pages(ctx, f.Filename, f.Data)
			if err != nil {
				if ctx.Err() != nil {
					return Expansion{}, ctx.Err()
				}
				r.logger.Warn("Document rejected", logger.String("file", f.Filename), logger.Error(err))
				exp.Issues = append(exp.Issues, fmt.Errorf("%s: %w", f.Filename, err))
				continue
			}
			exp.Items = append(exp.Items, pages...)
		}

	default:
		return Expansion{}, fmt.Errorf("%w: %s", models.ErrUnsupportedType, kind)
	}

	return exp, nil
}
