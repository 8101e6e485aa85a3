package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchMaxBytes = 50 << 20
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type FetcherConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	Client   HTTPDoer
}

// Fetcher downloads remote link content.
type Fetcher struct {
	client   HTTPDoer
	timeout  time.Duration
	maxBytes int64
	logger   logger.Logger
}

func NewFetcher(cfg FetcherConfig, log logger.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultFetchMaxBytes
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Fetcher{
		client:   cfg.Client,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		logger:   log.Named("fetcher"),
	}
}

// Fetch returns the body of url. Any non-2xx status, transport error or
// oversized body is reported as models.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", models.ErrFetch, err)
	}

	res, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("Download failed", logger.String("url", url), logger.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrFetch, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		f.logger.Warn("Unexpected status code on download",
			logger.String("url", url),
			logger.Int("status", res.StatusCode),
		)
		return nil, fmt.Errorf("%w: unexpected status code %d", models.ErrFetch, res.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrFetch, err)
	}
	if int64(len(buf)) > f.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", models.ErrFetch, f.maxBytes)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty body", models.ErrFetch)
	}

	f.logger.Debug("Downloaded", logger.String("url", url), logger.Int("bytes", len(buf)))
	return buf, nil
}
