package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/streamshop/db"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/product"
	"github.com/xenking/streamshop/internal/storage/postgres"
)

type catalogJSON struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Platform    string          `json:"platform"`
	Price       decimal.Decimal `json:"price"`
	Duration    string          `json:"duration"`
	Image       string          `json:"image"`
	Features    []string        `json:"features"`
	IsAvailable bool            `json:"isAvailable"`
}

type couponJSON struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
	IsActive bool            `json:"isActive"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		skipIfSeeded bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (defaults to the built-in catalog)")
	flag.BoolVar(&skipIfSeeded, "skip-if-seeded", false, "do nothing when the catalog already has products")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, skipIfSeeded); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, skipIfSeeded bool) error {
	catalog, err := readCatalog(catalogFile)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.Migrate(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := postgres.NewProductRepository(pool)
	if skipIfSeeded {
		existing, err := products.List(ctx)
		if err != nil {
			return errors.Wrap(err, "list products")
		}
		if len(existing) > 0 {
			slog.Info("database already seeded", slog.Int("products", len(existing)))
			return nil
		}
	}

	if err := seedProducts(ctx, products, catalog.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), catalog.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func readCatalog(path string) (*catalogJSON, error) {
	data := db.Catalog
	if path != "" {
		slog.Info("reading catalog file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read catalog file")
		}
	}

	var c catalogJSON
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	return &c, nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, items []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(items)))

	products := make([]product.Product, 0, len(items))
	for _, p := range items {
		if p.ID == "" || p.Price.IsNegative() {
			return errors.Errorf("product %q: id is required and price must not be negative", p.Name)
		}
		products = append(products, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Platform:    p.Platform,
			Price:       p.Price,
			Duration:    p.Duration,
			Image:       p.Image,
			Features:    p.Features,
			Available:   p.IsAvailable,
		})
	}

	if err := repo.Upsert(ctx, products); err != nil {
		return err
	}

	for _, p := range products {
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, items []couponJSON) error {
	slog.Info("upserting coupons", slog.Int("count", len(items)))

	rules := make([]coupon.Rule, 0, len(items))
	for _, c := range items {
		if !coupon.ValidFraction(c.Discount) {
			return errors.Errorf("coupon %q: discount %s is outside [0, 1]", c.Code, c.Discount)
		}
		rules = append(rules, coupon.Rule{
			Code:             coupon.NormalizeCode(c.Code),
			DiscountFraction: c.Discount,
			Active:           c.IsActive,
		})
	}

	if err := repo.Upsert(ctx, rules); err != nil {
		return err
	}

	for _, r := range rules {
		slog.Info("upserted coupon", slog.String("code", r.Code), slog.String("discount", r.DiscountFraction.String()))
	}
	return nil
}
