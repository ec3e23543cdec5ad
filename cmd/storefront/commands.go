package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/checkout"
	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/pricing"
	"github.com/xenking/streamshop/internal/domain/product"
	"github.com/xenking/streamshop/internal/storefront"
)

// errOutcome reports a checkout that did not end approved or pending.
var errOutcome = errors.New("checkout did not complete")

type cli struct {
	client *storefront.Client
	store  *cart.Store
	out    io.Writer
	lg     *zap.Logger
}

func (c *cli) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "products":
		return c.products(ctx)
	case "cart":
		return c.cart(ctx, args[1:])
	case "coupon":
		if len(args) != 2 {
			return errors.New("usage: coupon <code>")
		}
		return c.coupon(ctx, args[1])
	case "checkout":
		return c.checkout(ctx, args[1:])
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
}

func (c *cli) products(ctx context.Context) error {
	products, err := c.client.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPLATFORM\tDURATION\tPRICE\t")
	for _, p := range products {
		name := p.Name
		if !p.Available {
			name += " (unavailable)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", p.ID, name, p.Platform, p.Duration, money(p.Price))
	}
	return tw.Flush()
}

func (c *cli) cart(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"show"}
	}
	if err := c.store.Load(ctx); err != nil {
		return err
	}

	var err error
	switch sub := args[0]; {
	case sub == "show" && len(args) == 1:
	case sub == "add" && (len(args) == 2 || len(args) == 3):
		qty := 1
		if len(args) == 3 {
			if qty, err = strconv.Atoi(args[2]); err != nil {
				return errors.Errorf("invalid quantity %q", args[2])
			}
		}
		err = c.store.Add(ctx, args[1], qty)
	case sub == "remove" && len(args) == 2:
		err = c.store.Remove(ctx, args[1])
	case sub == "set" && len(args) == 3:
		qty, perr := strconv.Atoi(args[2])
		if perr != nil {
			return errors.Errorf("invalid quantity %q", args[2])
		}
		err = c.store.SetQuantity(ctx, args[1], qty)
	case sub == "clear" && len(args) == 1:
		err = c.store.Clear(ctx)
	default:
		return errors.New("usage: cart show|add <id> [qty]|remove <id>|set <id> <qty>|clear")
	}
	if err != nil {
		return err
	}
	return c.showQuote(ctx, nil)
}

func (c *cli) coupon(ctx context.Context, code string) error {
	if err := c.store.Load(ctx); err != nil {
		return err
	}
	applied, err := c.client.Validate(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			fmt.Fprintf(c.out, "Coupon %s is not valid.\n", coupon.NormalizeCode(code))
			return nil
		}
		return errors.Wrap(err, "validate coupon")
	}
	fmt.Fprintf(c.out, "Coupon %s: %s off.\n", applied.Code, percent(applied.DiscountFraction))
	return c.showQuote(ctx, applied)
}

func (c *cli) showQuote(ctx context.Context, applied *coupon.Coupon) error {
	products, err := c.client.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	lines, b := pricing.Quote(c.store.Items(), product.Index(products), applied)
	return renderQuote(c.out, lines, b, applied)
}

func (c *cli) checkout(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: checkout card|pix|boleto [flags]")
	}
	methodName := args[0]

	fs := flag.NewFlagSet("checkout "+methodName, flag.ContinueOnError)
	fs.SetOutput(c.out)
	var (
		customer     order.Customer
		couponCode   string
		token        string
		installments int
		cardBrand    string
		issuer       string
	)
	fs.StringVar(&customer.Email, "email", "", "customer email")
	fs.StringVar(&customer.FirstName, "first-name", "", "customer first name")
	fs.StringVar(&customer.LastName, "last-name", "", "customer last name")
	fs.StringVar(&customer.Phone, "phone", "", "customer phone")
	fs.StringVar(&customer.Identification.Type, "document-type", "CPF", "document type")
	fs.StringVar(&customer.Identification.Number, "document", "", "document number (required for pix and boleto)")
	fs.StringVar(&couponCode, "coupon", "", "coupon code to apply")
	fs.StringVar(&token, "token", "", "card token from the processor SDK")
	fs.IntVar(&installments, "installments", 1, "card installments")
	fs.StringVar(&cardBrand, "payment-method-id", "", "card brand id (visa, master, ...)")
	fs.StringVar(&issuer, "issuer-id", "", "card issuer id")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var method payment.Method
	switch methodName {
	case payment.MethodCard:
		method = payment.Card{Token: token, Installments: installments, PaymentMethodID: cardBrand, IssuerID: issuer}
	case payment.MethodPix:
		method = payment.Pix{Document: customer.Identification.Number}
	case payment.MethodBoleto:
		method = payment.Boleto{Document: customer.Identification.Number}
	default:
		return errors.Errorf("unknown payment method %q", methodName)
	}

	if err := c.store.Load(ctx); err != nil {
		return err
	}

	svc := checkout.NewService(c.client, c.client, c.client, checkout.Options{
		Reconciler: c.client,
		Logger:     c.lg.Named("checkout"),
	})
	session, err := svc.Begin(ctx, c.store)
	if err != nil {
		return errors.Wrap(err, "begin checkout")
	}
	if couponCode != "" {
		if _, err := session.ApplyCoupon(ctx, couponCode); err != nil {
			return errors.Wrapf(err, "apply coupon %s", coupon.NormalizeCode(couponCode))
		}
	}

	lines, b := session.Quote()
	if err := renderQuote(c.out, lines, b, session.Coupon()); err != nil {
		return err
	}

	out, err := session.Submit(ctx, method, customer)
	if err != nil {
		return err
	}
	renderOutcome(c.out, out)
	if out.Kind != checkout.Approved && out.Kind != checkout.Pending {
		return errOutcome
	}
	return nil
}

func money(d decimal.Decimal) string {
	return "R$ " + d.StringFixed(2)
}

func percent(f decimal.Decimal) string {
	return f.Mul(decimal.NewFromInt(100)).Round(2).String() + "%"
}
