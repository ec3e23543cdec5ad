package main

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/streamshop/internal/domain/coupon"
)

// importer merges a batch of rules into the coupon store.
type importer interface {
	Import(ctx context.Context, rules []coupon.Rule) (int64, error)
}

type loadStats struct {
	lines    uint64
	rejected uint64
	skipped  uint64
	merged   int64
}

// load streams every file concurrently and imports the accepted rules in
// batches of opts.batchSize from a single writer goroutine. A nil accept
// takes every well-formed line.
func load(ctx context.Context, dst importer, opts *options, accept func(code string) bool) (*loadStats, error) {
	var (
		lines, rejected, skipped atomic.Uint64
		stats                    loadStats
	)

	rules := make(chan coupon.Rule, opts.batchSize)

	g, ctx := errgroup.WithContext(ctx)

	readers, rctx := errgroup.WithContext(ctx)
	for _, path := range opts.files {
		readers.Go(func() error {
			return streamGzFile(rctx, path, func(line string) {
				lines.Add(1)
				code, discount, ok, skip := parseLine(line, opts.discount)
				switch {
				case skip:
					skipped.Add(1)
					return
				case !ok:
					rejected.Add(1)
					return
				case accept != nil && !accept(code):
					skipped.Add(1)
					return
				}
				select {
				case rules <- coupon.Rule{
					Code:             code,
					DiscountFraction: discount,
					Active:           true,
					ValidUntil:       opts.validUntil,
				}:
				case <-rctx.Done():
				}
			})
		})
	}
	g.Go(func() error {
		defer close(rules)
		return readers.Wait()
	})

	g.Go(func() error {
		batch := make([]coupon.Rule, 0, opts.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := dst.Import(ctx, batch)
			if err != nil {
				return errors.Wrapf(err, "import batch of %d", len(batch))
			}
			stats.merged += n
			slog.Info("batch imported", slog.Int("size", len(batch)), slog.Int64("merged_total", stats.merged))
			batch = batch[:0]
			return nil
		}

		for r := range rules {
			batch = append(batch, r)
			if len(batch) == opts.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.lines = lines.Load()
	stats.rejected = rejected.Load()
	stats.skipped = skipped.Load()
	return &stats, nil
}
