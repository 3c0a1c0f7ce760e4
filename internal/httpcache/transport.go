package httpcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/clock/system"
	"github.com/JakeFAU/giftlists/internal/hash/sha256"
	"github.com/JakeFAU/giftlists/internal/metrics"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config controls which responses are cached and for how long.
type Config struct {
	TTL            time.Duration
	AllowableCodes []int
	KeyHeaders     []string
	Clock          Clock
	Hasher         Hasher
	// StaleIfError replays an expired entry when the upstream request fails
	// or answers 5xx. Entries are then retained for TTL+MaxStale.
	StaleIfError bool
	MaxStale     time.Duration
}

// Transport is an http.RoundTripper serving GET and HEAD requests from a
// Store and recording cacheable responses into it.
type Transport struct {
	base      http.RoundTripper
	store     Store
	ttl       time.Duration
	allowable map[int]struct{}
	headers   []string
	clock     Clock
	hasher    Hasher
	stale     bool
	retention time.Duration
	locks     keyLocks
	logger    *zap.Logger
}

// NewTransport wraps base with a cache backed by store.
func NewTransport(base http.RoundTripper, store Store, cfg Config, logger *zap.Logger) (*Transport, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0, got %s", cfg.TTL)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := cfg.AllowableCodes
	if len(codes) == 0 {
		codes = []int{http.StatusOK}
	}
	allowable := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		allowable[c] = struct{}{}
	}
	headers := cfg.KeyHeaders
	if headers == nil {
		headers = DefaultKeyHeaders
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	retention := cfg.TTL
	if cfg.StaleIfError {
		if cfg.MaxStale <= 0 {
			return nil, fmt.Errorf("cache max stale must be > 0 when stale-if-error is on, got %s", cfg.MaxStale)
		}
		retention += cfg.MaxStale
	}
	return &Transport{
		base:      base,
		store:     store,
		ttl:       cfg.TTL,
		allowable: allowable,
		headers:   headers,
		clock:     clock,
		hasher:    hasher,
		stale:     cfg.StaleIfError,
		retention: retention,
		logger:    logger,
	}, nil
}

// Key returns the cache key for a request descriptor.
func (t *Transport) Key(method string, u *url.URL, header http.Header) (string, error) {
	key, err := t.hasher.Hash([]byte(Descriptor(method, u, header, t.headers)))
	if err != nil {
		return "", fmt.Errorf("hash cache key: %w", err)
	}
	return key, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead && req.Method != "" {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("cache transport passthrough: %w", err)
		}
		return resp, nil
	}
	ctx := req.Context()
	key, err := t.Key(req.Method, req.URL, req.Header)
	if err != nil {
		return nil, err
	}

	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		metrics.ObserveCache("error")
		return nil, fmt.Errorf("cache read %s: %w", req.URL, err)
	}
	var stale *Entry
	if ok {
		entry, err := DecodeEntry(raw)
		if err != nil {
			metrics.ObserveCache("corrupt")
			return nil, fmt.Errorf("cache read %s: %w", req.URL, err)
		}
		if !entry.Expired(t.clock.Now()) {
			metrics.ObserveCache("hit")
			t.logger.Debug("cache hit", zap.String("url", req.URL.String()), zap.Int("status", entry.StatusCode))
			return entry.Response(req), nil
		}
		stale = &entry
	}
	metrics.ObserveCache("miss")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if t.stale && stale != nil && ctx.Err() == nil {
			return t.serveStale(req, stale, err.Error()), nil
		}
		return nil, fmt.Errorf("cache transport roundtrip: %w", err)
	}
	if t.stale && stale != nil && resp.StatusCode >= http.StatusInternalServerError {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.Debug("close upstream body failed", zap.Error(cerr))
		}
		return t.serveStale(req, stale, resp.Status), nil
	}
	if _, cacheable := t.allowable[resp.StatusCode]; !cacheable {
		return resp, nil
	}
	return t.record(ctx, key, req, resp)
}

func (t *Transport) record(ctx context.Context, key string, req *http.Request, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if closeErr != nil {
		t.logger.Warn("close response body failed", zap.String("url", req.URL.String()), zap.Error(closeErr))
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	now := t.clock.Now()
	entry := Entry{
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   now,
		ExpiresAt:  now.Add(t.ttl),
	}
	data, err := entry.Encode()
	if err != nil {
		return nil, err
	}

	unlock := t.locks.lock(key)
	err = t.store.Put(ctx, key, data, t.retention)
	unlock()
	if err != nil {
		t.logger.Warn("cache write failed", zap.String("url", entry.URL), zap.Error(err))
		return resp, nil
	}
	metrics.ObserveCache("store")
	return resp, nil
}

func (t *Transport) serveStale(req *http.Request, entry *Entry, cause string) *http.Response {
	metrics.ObserveCache("stale")
	t.logger.Warn("upstream failed, serving stale cache entry",
		zap.String("url", req.URL.String()),
		zap.String("cause", cause),
		zap.Time("expired_at", entry.ExpiresAt),
	)
	resp := entry.Response(req)
	resp.Header.Set(HeaderStale, "1")
	return resp
}

// Invalidate removes the cached entry for the given request descriptor.
func (t *Transport) Invalidate(ctx context.Context, method string, u *url.URL, header http.Header) error {
	key, err := t.Key(method, u, header)
	if err != nil {
		return err
	}
	unlock := t.locks.lock(key)
	defer unlock()
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	metrics.ObserveCache("purge")
	return nil
}
