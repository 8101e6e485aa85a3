package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	imgproc "github.com/feichai0017/photomaster/internal/agent/image"
	"github.com/feichai0017/photomaster/internal/agent/source"
	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/metrics"
)

// ErrRemoverUnavailable is returned when background removal is requested but
// no segmenter is configured.
var ErrRemoverUnavailable = errors.New("background removal is not configured")

// Result is the outcome of one batch run. Outputs keep input order.
type Result struct {
	BatchID string               `json:"batchId"`
	Outputs []models.Output      `json:"outputs"`
	Skipped []models.SkippedItem `json:"skipped"`
	// Issues are upload problems found before processing, such as sheets
	// without the required columns.
	Issues []string `json:"issues,omitempty"`
}

// WriteArchive writes the batch zip to w.
func (r *Result) WriteArchive(w io.Writer) error {
	return WriteArchive(w, r.Outputs)
}

// Archive returns the batch zip.
func (r *Result) Archive() ([]byte, error) {
	return BuildArchive(r.Outputs)
}

// Pipeline runs the per-item stages of a batch.
type Pipeline struct {
	resolver   *source.Resolver
	remover    *imgproc.Remover
	normalizer *imgproc.Normalizer
	compositor *imgproc.Compositor
	workers    int
	metrics    *metrics.Metrics
	logger     logger.Logger
}

type PipelineConfig struct {
	Resolver   *source.Resolver
	Remover    *imgproc.Remover
	Normalizer *imgproc.Normalizer
	Compositor *imgproc.Compositor
	// Workers bounds concurrent items. Values below 1 mean sequential.
	Workers int
	// Metrics is optional.
	Metrics *metrics.Metrics
}

func NewPipeline(cfg PipelineConfig, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = source.NewResolver(nil, nil, log)
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = imgproc.NewNormalizer(log, imgproc.DefaultJPEGQuality)
	}
	if cfg.Compositor == nil {
		cfg.Compositor = imgproc.NewCompositor(log)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pipeline{
		resolver:   cfg.Resolver,
		remover:    cfg.Remover,
		normalizer: cfg.Normalizer,
		compositor: cfg.Compositor,
		workers:    cfg.Workers,
		metrics:    cfg.Metrics,
		logger:     log.Named("pipeline"),
	}
}

// ProgressFunc is called after each item finishes, successfully or not.
type ProgressFunc func(done, total int)

type runConfig struct {
	batchID  string
	progress ProgressFunc
}

type RunOption func(*runConfig)

func WithBatchID(id string) RunOption {
	return func(c *runConfig) { c.batchID = id }
}

func WithProgress(fn ProgressFunc) RunOption {
	return func(c *runConfig) { c.progress = fn }
}

type itemResult struct {
	out models.Output
	err error
}

// Run processes items with opts. Failed items are skipped and listed in
// Result.Skipped; only cancellation or invalid options fail the whole batch.
func (p *Pipeline) Run(ctx context.Context, items []models.BatchItem, opts models.Options, runOpts ...RunOption) (*Result, error) {
	rc := runConfig{batchID: uuid.New().String()}
	for _, o := range runOpts {
		o(&rc)
	}
	log := p.logger.With(logger.String("batchId", rc.batchID))
	start := time.Now()

	canvas, err := p.prepare(opts)
	if err != nil {
		return nil, err
	}

	log.Info("Starting batch",
		logger.Int("items", len(items)),
		logger.Bool("removeBackground", opts.RemoveBackground),
		logger.Bool("compositing", canvas != nil),
		logger.Bool("resizeForeground", opts.ResizeForeground),
		logger.Int("workers", p.workers),
	)

	results := make([]itemResult, len(items))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := p.processItem(gctx, item, opts, canvas)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = itemResult{out: out, err: err}
			if rc.progress != nil {
				rc.progress(int(done.Add(1)), len(items))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn("Batch cancelled", logger.Error(err))
		p.metrics.BatchFinished(start, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		p.metrics.BatchFinished(start, err)
		return nil, err
	}

	res := &Result{
		BatchID: rc.batchID,
		Outputs: make([]models.Output, 0, len(items)),
	}
	names := NewNameSet()
	for i, r := range results {
		if r.err != nil {
			reason := r.err.Error()
			level := log.Warn
			if !models.IsItemError(r.err) {
				level = log.Error
			}
			level("Skipping item",
				logger.String("name", items[i].Name),
				logger.String("reason", reason),
			)
			res.Skipped = append(res.Skipped, models.SkippedItem{Name: items[i].Name, Reason: reason})
			p.metrics.ItemSkipped()
			continue
		}
		r.out.Name = names.Claim(r.out.Name)
		res.Outputs = append(res.Outputs, r.out)
		p.metrics.ItemProcessed()
	}
	p.metrics.BatchFinished(start, nil)

	log.Info("Batch finished",
		logger.Int("outputs", len(res.Outputs)),
		logger.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// ProcessImage runs the pipeline for a single asset and returns its error
// instead of skipping it.
func (p *Pipeline) ProcessImage(ctx context.Context, asset models.Asset, opts models.Options) (models.Output, error) {
	canvas, err := p.prepare(opts)
	if err != nil {
		return models.Output{}, err
	}
	out, err := p.processItem(ctx, models.InlineItem(asset.Name, asset.Data), opts, canvas)
	if err != nil {
		return models.Output{}, err
	}
	out.Name = NewNameSet().Claim(out.Name)
	return out, nil
}

// prepare validates opts and decodes the background canvas once.
func (p *Pipeline) prepare(opts models.Options) (*imgproc.Canvas, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.RemoveBackground && p.remover == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidOptions, ErrRemoverUnavailable)
	}
	if !opts.Compositing() {
		if opts.AddBackground {
			p.logger.Debug("Background requested without an image, compositing disabled")
		}
		return nil, nil
	}
	canvas, err := imgproc.PrepareCanvas(opts.Background.Data)
	if err != nil {
		return nil, fmt.Errorf("background image: %w", err)
	}
	return canvas, nil
}

func (p *Pipeline) processItem(ctx context.Context, item models.BatchItem, opts models.Options, canvas *imgproc.Canvas) (models.Output, error) {
	start := time.Now()
	asset, err := p.resolver.Resolve(ctx, item)
	if err != nil {
		return models.Output{}, err
	}
	p.metrics.ObserveStage(metrics.StageResolve, start)

	var enc imgproc.Encoded
	start = time.Now()
	if opts.RemoveBackground {
		enc, err = p.remover.Remove(ctx, asset.Data)
		p.metrics.ObserveStage(metrics.StageRemove, start)
	} else {
		enc, err = p.normalizer.Normalize(ctx, asset.Data, asset.Name, canvas != nil)
		p.metrics.ObserveStage(metrics.StageNormalize, start)
	}
	if err != nil {
		return models.Output{}, err
	}

	out := models.Output{
		Name:   asset.Name,
		Ext:    enc.Ext,
		Data:   enc.Data,
		Width:  enc.Width,
		Height: enc.Height,
	}

	if canvas != nil {
		start = time.Now()
		comp, err := p.compositor.CompositeOnto(ctx, enc.Data, canvas, imgproc.ParamsFromOptions(opts))
		p.metrics.ObserveStage(metrics.StageComposite, start)
		if err != nil {
			return models.Output{}, err
		}
		out.Ext = comp.Ext
		out.Data = comp.Data
		out.Width = comp.Width
		out.Height = comp.Height
		out.ForegroundWidth = comp.ForegroundWidth
		out.ForegroundHeight = comp.ForegroundHeight
	}

	if len(out.Data) == 0 {
		return models.Output{}, fmt.Errorf("%w: %s", models.ErrEmptyOutput, asset.Name)
	}
	return out, nil
}
