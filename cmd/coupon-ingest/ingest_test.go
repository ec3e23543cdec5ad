package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/streamshop/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

type recordingImporter struct {
	mu      sync.Mutex
	batches [][]coupon.Rule
	err     error
}

func (r *recordingImporter) Import(_ context.Context, rules []coupon.Rule) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]coupon.Rule(nil), rules...))
	return int64(len(rules)), nil
}

func (r *recordingImporter) codes() []string {
	var out []string
	for _, b := range r.batches {
		for _, rule := range b {
			out = append(out, rule.Code)
		}
	}
	sort.Strings(out)
	return out
}

func TestParseLine(t *testing.T) {
	def := decimal.RequireFromString("0.10")

	tests := []struct {
		line     string
		code     string
		discount string
		ok, skip bool
	}{
		{line: "stream20", code: "STREAM20", discount: "0.1", ok: true},
		{line: " PRIMEIRA15 , 0.15 ", code: "PRIMEIRA15", discount: "0.15", ok: true},
		{line: "", skip: true},
		{line: "# header", skip: true},
		{line: "ABC"},
		{line: "BAD CODE"},
		{line: "TOOMUCH,1.5"},
		{line: "NOTANUMBER,abc"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			code, discount, ok, skip := parseLine(tt.line, def)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.skip, skip)
			if tt.ok {
				assert.Equal(t, tt.code, code)
				assert.True(t, decimal.RequireFromString(tt.discount).Equal(discount), discount.String())
			}
		})
	}
}

func TestExpandFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeGz(t, dir, "a.gz", "AAAA1")
	b := writeGz(t, dir, "b.gz", "BBBB1")

	files, err := expandFiles(filepath.Join(dir, "*.gz") + "," + a)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, files)

	_, err = expandFiles(filepath.Join(dir, "*.csv"))
	assert.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, "a.gz", "AAAA1")
	pattern := filepath.Join(dir, "*.gz")

	_, err := parseOptions(pattern, 2, "0.1", "", 10, 100, "postgres://x")
	assert.Error(t, err, "quorum above file count")

	_, err = parseOptions(pattern, 1, "1.2", "", 10, 100, "postgres://x")
	assert.Error(t, err, "discount out of range")

	_, err = parseOptions(pattern, 1, "0.1", "", 10, 100, "")
	assert.Error(t, err, "missing database url")

	opts, err := parseOptions(pattern, 1, "0.25", "2030-01-01T00:00:00Z", 10, 100, "postgres://x")
	require.NoError(t, err)
	require.NotNil(t, opts.validUntil)
	assert.Equal(t, 2030, opts.validUntil.Year())
	assert.Equal(t, "0.25", opts.discount.String())
}

func TestFindQuorumCodes(t *testing.T) {
	dir := t.TempDir()
	opts := &options{
		files: []string{
			writeGz(t, dir, "1.gz", "SHARED01", "ONLYONE1", "TWOFILES", "SHARED01"),
			writeGz(t, dir, "2.gz", "SHARED01", "TWOFILES", "ONLYTWO2"),
			writeGz(t, dir, "3.gz", "shared01", "ONLYTRI3", "bad"),
		},
		quorum:        2,
		discount:      decimal.RequireFromString("0.1"),
		expectedCodes: 1000,
	}

	filters, err := buildBloomFilters(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, filters, 3)

	valid, err := findQuorumCodes(context.Background(), opts, filters)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"SHARED01": {}, "TWOFILES": {}}, valid)

	opts.quorum = 3
	valid, err = findQuorumCodes(context.Background(), opts, filters)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"SHARED01": {}}, valid)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	opts := &options{
		files: []string{
			writeGz(t, dir, "1.gz", "# campaign", "WELCOME1", "VIP-2026,0.30", "x"),
			writeGz(t, dir, "2.gz", "SUMMER26", "", "WINTER26,2"),
		},
		quorum:    1,
		discount:  decimal.RequireFromString("0.10"),
		batchSize: 2,
	}

	dst := &recordingImporter{}
	stats, err := load(context.Background(), dst, opts, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"SUMMER26", "VIP-2026", "WELCOME1"}, dst.codes())
	assert.Equal(t, uint64(7), stats.lines)
	assert.Equal(t, uint64(2), stats.rejected)
	assert.Equal(t, uint64(2), stats.skipped)
	assert.Equal(t, int64(3), stats.merged)
	for _, b := range dst.batches {
		assert.LessOrEqual(t, len(b), 2)
		for _, r := range b {
			assert.True(t, r.Active)
			if r.Code == "VIP-2026" {
				assert.Equal(t, "0.3", r.DiscountFraction.String())
			}
		}
	}
}

func TestLoad_AcceptFilter(t *testing.T) {
	dir := t.TempDir()
	opts := &options{
		files:     []string{writeGz(t, dir, "1.gz", "KEEP0001", "DROP0001")},
		quorum:    1,
		discount:  decimal.RequireFromString("0.10"),
		batchSize: 10,
	}

	dst := &recordingImporter{}
	stats, err := load(context.Background(), dst, opts, func(code string) bool { return code == "KEEP0001" })
	require.NoError(t, err)
	assert.Equal(t, []string{"KEEP0001"}, dst.codes())
	assert.Equal(t, uint64(1), stats.skipped)
}

func TestLoad_ImportError(t *testing.T) {
	dir := t.TempDir()
	opts := &options{
		files:     []string{writeGz(t, dir, "1.gz", "CODE0001", "CODE0002", "CODE0003")},
		quorum:    1,
		discount:  decimal.RequireFromString("0.10"),
		batchSize: 1,
	}

	_, err := load(context.Background(), &recordingImporter{err: errors.New("copy failed")}, opts, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy failed")
}
