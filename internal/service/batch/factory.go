package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/photomaster/config"
	"github.com/feichai0017/photomaster/internal/agent"
	imgproc "github.com/feichai0017/photomaster/internal/agent/image"
	"github.com/feichai0017/photomaster/internal/agent/source"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/metrics"
	"github.com/feichai0017/photomaster/pkg/queue"
	"github.com/feichai0017/photomaster/pkg/storage"
)

// GetService builds the batch service from cfg. The returned close function
// releases the queue and segmenter connections.
func GetService(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log logger.Logger) (*BatchService, func() error, error) {
	// 初始化来源解析
	fetcher := source.NewFetcher(source.FetcherConfig{
		Timeout:  cfg.Fetch.Timeout,
		MaxBytes: cfg.Fetch.MaxBytes,
	}, log)
	documents := source.NewDocumentSource(source.FitzRenderer{}, source.DocumentConfig{
		Zoom:        cfg.Document.Zoom,
		MaxPages:    cfg.Document.MaxPages,
		JPEGQuality: cfg.Pipeline.JPEGQuality,
	}, log)
	resolver := source.NewResolver(fetcher, documents, log)

	// 初始化抠图, 未配置时 remove_background 请求会被拒绝
	var (
		remover *imgproc.Remover
		closers []func() error
	)
	if cfg.Segmenter.Endpoint != "" {
		seg := imgproc.SharedSegmenter(&imgproc.SegmenterConfig{
			Endpoint: cfg.Segmenter.Endpoint,
			Model:    cfg.Segmenter.Model,
			Timeout:  cfg.Segmenter.Timeout,
		})
		r, err := imgproc.NewRemover(seg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize remover: %w", err)
		}
		remover = r
		if c, ok := seg.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
	} else {
		log.Warn("No segmenter endpoint configured, background removal disabled")
	}

	pipeline := NewPipeline(PipelineConfig{
		Resolver:   resolver,
		Remover:    remover,
		Normalizer: imgproc.NewNormalizer(log, cfg.Pipeline.JPEGQuality),
		Compositor: imgproc.NewCompositor(log),
		Workers:    cfg.Pipeline.Workers,
		Metrics:    m,
	}, log)

	// 初始化存储和队列, 两者都配置时才支持异步批处理
	store, err := storage.NewStorage(ctx, storage.StorageType(cfg.Storage.Type), log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var q queue.Queue
	if store != nil {
		aq, err := queue.NewAsynqQueue(&queue.QueueConfig{
			RedisAddr:      cfg.Queue.RedisAddr,
			RedisDB:        cfg.Queue.RedisDB,
			MaxRetries:     cfg.Queue.MaxRetries,
			ProcessTimeout: cfg.Queue.Timeout,
			StatusTTL:      cfg.Queue.StatusTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize queue: %w", err)
		}
		q = aq
		closers = append(closers, aq.Close)
	} else {
		log.Info("No archive store configured, asynchronous batches disabled")
	}

	svc := NewService(agent.NewIntake(resolver, log), pipeline, q, store, log, &ServiceConfig{
		QueuePriority:   2,
		RetentionPeriod: cfg.Storage.Retention,
	})

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return svc, closeAll, nil
}
