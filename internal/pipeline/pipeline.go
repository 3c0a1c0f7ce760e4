// Package pipeline runs one full scrape: aggregate every list, then persist
// the validated document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/giftlist"
	"github.com/JakeFAU/giftlists/internal/metrics"
)

// Aggregator builds a document from the owner registry.
type Aggregator interface {
	Run(ctx context.Context, registry giftlist.Registry) giftlist.Document
}

// Persister stores and re-reads the output document.
type Persister interface {
	Persist(ctx context.Context, doc giftlist.Document) error
	Read(ctx context.Context) ([]byte, error)
}

// Pipeline ties the aggregator to the writer.
type Pipeline struct {
	registry   giftlist.Registry
	aggregator Aggregator
	persister  Persister
	logger     *zap.Logger
}

// New constructs a Pipeline.
func New(registry giftlist.Registry, agg Aggregator, persister Persister, logger *zap.Logger) (*Pipeline, error) {
	if agg == nil {
		return nil, errors.New("aggregator is required")
	}
	if persister == nil {
		return nil, errors.New("persister is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry:   registry,
		aggregator: agg,
		persister:  persister,
		logger:     logger.Named("pipeline"),
	}, nil
}

// Run scrapes every owner and writes the result.
func (p *Pipeline) Run(ctx context.Context) (giftlist.Document, error) {
	start := time.Now()
	doc := p.aggregator.Run(ctx, p.registry)
	if err := p.persister.Persist(ctx, doc); err != nil {
		metrics.ObservePipeline("failed", time.Since(start))
		p.logger.Error("persist document failed", zap.Error(err))
		return giftlist.Document{}, fmt.Errorf("persist document: %w", err)
	}
	metrics.ObservePipeline("succeeded", time.Since(start))
	p.logger.Info("pipeline finished",
		zap.Int("owners", len(p.registry)),
		zap.Int("lists", doc.NumberOfLists),
		zap.Duration("elapsed", time.Since(start)),
	)
	return doc, nil
}

// RunAndRead runs the pipeline and returns the file as written.
func (p *Pipeline) RunAndRead(ctx context.Context) ([]byte, error) {
	if _, err := p.Run(ctx); err != nil {
		return nil, err
	}
	data, err := p.persister.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
