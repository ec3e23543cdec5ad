package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

type options struct {
	files         []string
	quorum        int
	discount      decimal.Decimal
	validUntil    *time.Time
	batchSize     int
	expectedCodes uint
	databaseURL   string
}

func main() {
	var (
		patterns    string
		quorum      int
		discount    string
		validUntil  string
		batchSize   int
		expected    uint
		databaseURL string
	)

	flag.StringVar(&patterns, "files", "data/*.gz", "comma separated gzip files or glob patterns, one coupon per line")
	flag.IntVar(&quorum, "quorum", 1, "accept a code only when it is listed in at least this many files")
	flag.StringVar(&discount, "discount", "0.10", "discount fraction for lines that carry only a code")
	flag.StringVar(&validUntil, "valid-until", "", "expiry applied to every imported coupon (RFC 3339)")
	flag.IntVar(&batchSize, "batch-size", 50_000, "coupons per COPY batch")
	flag.UintVar(&expected, "expected-codes", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	opts, err := parseOptions(patterns, quorum, discount, validUntil, batchSize, expected, databaseURL)
	if err != nil {
		slog.Error("invalid arguments", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func parseOptions(
	patterns string,
	quorum int,
	discount, validUntil string,
	batchSize int,
	expected uint,
	databaseURL string,
) (*options, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
	}

	files, err := expandFiles(patterns)
	if err != nil {
		return nil, err
	}
	if quorum < 1 || quorum > len(files) {
		return nil, errors.Errorf("quorum %d must be between 1 and the number of files (%d)", quorum, len(files))
	}
	if len(files) > 64 {
		return nil, errors.Errorf("at most 64 files are supported, got %d", len(files))
	}

	d, err := decimal.NewFromString(discount)
	if err != nil || !coupon.ValidFraction(d) {
		return nil, errors.Errorf("discount %q must be a fraction in [0, 1]", discount)
	}
	if batchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}

	opts := &options{
		files:         files,
		quorum:        quorum,
		discount:      d,
		batchSize:     batchSize,
		expectedCodes: max(expected, 1),
		databaseURL:   databaseURL,
	}
	if validUntil != "" {
		t, err := time.Parse(time.RFC3339, validUntil)
		if err != nil {
			return nil, errors.Wrap(err, "parse valid-until")
		}
		opts.validUntil = &t
	}
	return opts, nil
}

// expandFiles resolves a comma separated list of paths and glob patterns into
// a sorted, duplicate free file list.
func expandFiles(patterns string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for p := range strings.SplitSeq(patterns, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, errors.Wrapf(err, "expand %q", p)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("no files match %q", p)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no input files")
	}
	sort.Strings(files)
	return files, nil
}

func run(ctx context.Context, opts *options) error {
	for _, f := range opts.files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	var accept func(code string) bool
	if opts.quorum > 1 {
		// Pass 1: one bloom filter per file.
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(opts.files)))

		filters, err := buildBloomFilters(ctx, opts)
		if err != nil {
			return errors.Wrap(err, "build bloom filters")
		}

		// Pass 2: confirm codes listed in quorum or more files.
		slog.Info("pass 2: finding codes that reach quorum", slog.Int("quorum", opts.quorum))

		valid, err := findQuorumCodes(ctx, opts, filters)
		if err != nil {
			return errors.Wrap(err, "find quorum codes")
		}

		slog.Info("codes reaching quorum", slog.Int("count", len(valid)))
		if len(valid) == 0 {
			slog.Info("no codes to import")
			return nil
		}
		accept = func(code string) bool {
			_, ok := valid[code]
			return ok
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := load(ctx, postgres.NewCouponRepository(pool), opts, accept)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}

	slog.Info("import finished",
		slog.Uint64("lines", stats.lines),
		slog.Uint64("rejected", stats.rejected),
		slog.Uint64("skipped", stats.skipped),
		slog.Int64("merged", stats.merged),
	)
	return nil
}
