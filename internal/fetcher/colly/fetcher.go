// Package collyfetcher retrieves list pages through gocolly, backed by the
// HTTP response cache.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/httpcache"
	"github.com/JakeFAU/giftlists/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads pages through a cache-aware colly collector.
type Fetcher struct {
	cfg           Config
	cache         *httpcache.Transport
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type page struct {
	status int
	body   []byte
}

// New builds a Fetcher whose requests all go through cache.
func New(cfg Config, cache *httpcache.Transport, logger *zap.Logger) (*Fetcher, error) {
	if cache == nil {
		return nil, errors.New("cache transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(cache)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		cache:         cache,
		baseCollector: c,
		logger:        logger.Named("fetcher"),
	}, nil
}

// Fetch returns the body of rawURL. Transport failures and unreadable cache
// entries clear the cached entry and retry once; a non-success status is
// returned as a *StatusError without retrying.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	body, err := f.fetch(ctx, rawURL)
	if err == nil {
		metrics.ObserveFetch(rawURL, "success", time.Since(start))
		return body, nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) || ctx.Err() != nil {
		metrics.ObserveFetch(rawURL, Classify(err), time.Since(start))
		return nil, err
	}

	f.logger.Warn("fetch failed, clearing cache entry and retrying",
		zap.String("url", rawURL),
		zap.String("kind", Classify(err)),
		zap.Error(err),
	)
	if clearErr := f.invalidate(ctx, rawURL); clearErr != nil {
		f.logger.Warn("clear cache entry failed", zap.String("url", rawURL), zap.Error(clearErr))
	}

	body, err = f.fetch(ctx, rawURL)
	if err == nil {
		metrics.ObserveFetch(rawURL, "success", time.Since(start))
		return body, nil
	}
	metrics.ObserveFetch(rawURL, Classify(err), time.Since(start))
	if errors.As(err, &statusErr) {
		return nil, err
	}
	return nil, &FetchError{URL: rawURL, Attempts: 2, Err: err}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		result   page
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, err
	}
	if result.status < 200 || result.status > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: result.status}
	}
	return result.body, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) invalidate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	header := http.Header{}
	header.Set("User-Agent", f.baseCollector.UserAgent)
	return f.cache.Invalidate(ctx, http.MethodGet, u, header)
}

// NewHTTPTransport returns the pooled transport used beneath the cache.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
