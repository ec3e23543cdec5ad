package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/streamshop/internal/domain/coupon"
)

const (
	minCodeLen = 4
	maxCodeLen = 32
)

// parseLine reads "CODE" or "CODE,DISCOUNT". Blank lines and lines starting
// with '#' are ignored; ok is false for them and for malformed lines, and
// skip tells the two apart.
func parseLine(line string, def decimal.Decimal) (code string, discount decimal.Decimal, ok, skip bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", decimal.Zero, false, true
	}

	raw, frac, hasFrac := strings.Cut(line, ",")
	code = coupon.NormalizeCode(raw)
	if !validCode(code) {
		return "", decimal.Zero, false, false
	}

	discount = def
	if hasFrac {
		d, err := decimal.NewFromString(strings.TrimSpace(frac))
		if err != nil || !coupon.ValidFraction(d) {
			return "", decimal.Zero, false, false
		}
		discount = d
	}
	return code, discount, true, false
}

func validCode(code string) bool {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, opts *options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(opts.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range opts.files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.expectedCodes, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, path, func(line string) {
				code, _, ok, _ := parseLine(line, opts.discount)
				if !ok {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}

			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findQuorumCodes re-streams every file and keeps the codes that the other
// files' filters also report. The bloom filters only preselect candidates;
// a code is accepted when it was actually read from quorum distinct files.
func findQuorumCodes(ctx context.Context, opts *options, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]map[string]uint64, len(opts.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range opts.files {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			fileBit := uint64(1) << uint(i)

			if err := streamGzFile(ctx, path, func(line string) {
				code, _, ok, _ := parseLine(line, opts.discount)
				if !ok {
					return
				}
				hits := 1
				for j, f := range filters {
					if j != i && f.TestString(code) {
						hits++
					}
				}
				if hits >= opts.quorum {
					candidates[code] |= fileBit
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}

			slog.Info("pass 2 complete", slog.String("file", path), slog.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	valid := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= opts.quorum {
			valid[code] = struct{}{}
		}
	}
	return valid, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for n := 0; scanner.Scan(); n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
