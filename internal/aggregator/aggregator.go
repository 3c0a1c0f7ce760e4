// Package aggregator scrapes every registered owner's list with a fixed
// pool of workers and assembles the results into one document.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/giftlist"
	"github.com/JakeFAU/giftlists/internal/metrics"
	"github.com/JakeFAU/giftlists/internal/queue/memory"
)

// DefaultWorkers is the pool size used when Config.Workers is unset.
const DefaultWorkers = 5

// Fetcher retrieves raw page bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser extracts a gift list from raw page bytes.
type Parser interface {
	Parse(owner, pageURL string, raw []byte) (giftlist.GiftList, error)
}

// Config controls the worker pool.
type Config struct {
	BaseURL string
	Workers int
}

// Result is the outcome of one owner's task. Exactly one of List or Err is
// meaningful.
type Result struct {
	Owner giftlist.Owner
	List  giftlist.GiftList
	Err   error
}

// Aggregator fans registry owners out to workers.
type Aggregator struct {
	baseURL string
	workers int
	fetcher Fetcher
	parser  Parser
	logger  *zap.Logger
}

// New constructs an Aggregator.
func New(cfg Config, fetcher Fetcher, parser Parser, logger *zap.Logger) (*Aggregator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if parser == nil {
		return nil, errors.New("parser is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		baseURL: base,
		workers: cfg.Workers,
		fetcher: fetcher,
		parser:  parser,
		logger:  logger.Named("aggregator"),
	}, nil
}

// ListURL returns the page address for owner.
func (a *Aggregator) ListURL(owner giftlist.Owner) string {
	return a.baseURL + "/" + owner.Path()
}

// Run scrapes every owner and returns the successfully parsed lists in
// completion order. Failed owners are logged and left out.
func (a *Aggregator) Run(ctx context.Context, registry giftlist.Registry) giftlist.Document {
	var lists []giftlist.GiftList
	for _, res := range a.Collect(ctx, registry) {
		if res.Err != nil {
			a.logger.Warn("list skipped",
				zap.String("owner", res.Owner.Name),
				zap.Int("id", res.Owner.ID),
				zap.Error(res.Err),
			)
			continue
		}
		lists = append(lists, res.List)
	}
	a.logger.Info("aggregation finished",
		zap.Int("owners", len(registry)),
		zap.Int("lists", len(lists)),
	)
	return giftlist.NewDocument(lists)
}

// Collect returns one Result per registry owner, in completion order. Owners
// not yet started when ctx ends are reported with the context error.
func (a *Aggregator) Collect(ctx context.Context, registry giftlist.Registry) []Result {
	if len(registry) == 0 {
		return nil
	}
	queue := memory.NewQueue[giftlist.Owner](len(registry))
	for _, owner := range registry {
		// Capacity matches the registry, so this never blocks.
		if err := queue.Enqueue(context.Background(), owner); err != nil {
			a.logger.Error("enqueue owner failed", zap.String("owner", owner.Name), zap.Error(err))
		}
	}
	queue.Close()

	workers := min(a.workers, len(registry))
	results := make(chan Result, len(registry))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.work(ctx, queue, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]Result, 0, len(registry))
	for res := range results {
		collected = append(collected, res)
	}
	return collected
}

func (a *Aggregator) work(ctx context.Context, queue *memory.Queue[giftlist.Owner], results chan<- Result) {
	for {
		owner, err := queue.Dequeue(context.Background())
		if err != nil {
			return
		}
		results <- a.process(ctx, owner)
	}
}

func (a *Aggregator) process(ctx context.Context, owner giftlist.Owner) Result {
	if err := ctx.Err(); err != nil {
		metrics.ObserveList("failed", 0)
		return Result{Owner: owner, Err: fmt.Errorf("scrape %s canceled: %w", owner.Name, err)}
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	pageURL := a.ListURL(owner)
	raw, err := a.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		metrics.ObserveList("failed", 0)
		return Result{Owner: owner, Err: fmt.Errorf("fetch list of %s: %w", owner.Name, err)}
	}
	list, err := a.parser.Parse(owner.Name, pageURL, raw)
	if err != nil {
		metrics.ObserveList("failed", 0)
		return Result{Owner: owner, Err: err}
	}
	metrics.ObserveList("parsed", len(list.Presents))
	a.logger.Debug("list scraped",
		zap.String("owner", owner.Name),
		zap.Int("presents", len(list.Presents)),
	)
	return Result{Owner: owner, List: list}
}
