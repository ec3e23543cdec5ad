// Command storefront is a terminal client of the storefront API: it browses
// the catalog, edits the session's cart, checks coupons and pays.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/storefront"
)

const usage = `usage: storefront [flags] <command> [args]

commands:
  products                          list the catalog
  cart show                         show the cart with prices
  cart add <product-id> [qty]       add qty (default 1) of a product
  cart remove <product-id>          remove a product
  cart set <product-id> <qty>       set a product's quantity
  cart clear                        empty the cart
  coupon <code>                     check a coupon against the cart
  checkout card|pix|boleto [flags]  pay for the cart

flags:
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("storefront", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	apiURL := fs.String("api", envOr("STREAMSHOP_API_URL", "http://localhost:8080"), "storefront API base URL")
	sessionFile := fs.String("session-file", "", "file holding the session id (default: user config dir)")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	lg, err := newLogger(stderr, *verbose)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	path := *sessionFile
	if path == "" {
		if path, err = defaultSessionFile(); err != nil {
			return err
		}
	}
	sessionID, err := loadSession(path, time.Now())
	if err != nil {
		return err
	}
	lg.Debug("Using session", zap.String("session_id", sessionID), zap.String("file", path))

	client := storefront.New(storefront.Options{
		BaseURL: strings.TrimRight(*apiURL, "/"),
		Timeout: *timeout,
		Logger:  lg.Named("api"),
	})

	c := &cli{
		client: client,
		store:  cart.NewStore(sessionID, client, lg.Named("cart")),
		out:    stdout,
		lg:     lg,
	}
	return c.dispatch(ctx, fs.Args())
}

func newLogger(w io.Writer, verbose bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultSessionFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "locate config dir")
	}
	return filepath.Join(dir, "streamshop", "session"), nil
}

// loadSession returns the session id stored at path, creating and storing a
// new one when the file is missing or holds an unusable id.
func loadSession(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); cart.ValidSessionID(id) {
			return id, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", errors.Wrap(err, "read session file")
	}

	id := cart.NewSessionID(now)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", errors.Wrap(err, "create session dir")
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", errors.Wrap(err, "write session file")
	}
	return id, nil
}
