package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/xenking/streamshop/internal/checkout"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/pricing"
)

func renderQuote(w io.Writer, lines []pricing.Line, b pricing.Breakdown, applied *coupon.Coupon) error {
	if len(lines) == 0 {
		_, err := fmt.Fprintln(w, "Cart is empty.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PRODUCT\tQTY\tUNIT\tAMOUNT\t")
	for _, l := range lines {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", l.Name, l.Quantity, money(l.UnitPrice), money(l.Amount()))
	}
	fmt.Fprintf(tw, "Subtotal\t\t\t%s\t\n", money(b.Subtotal))
	if applied != nil {
		fmt.Fprintf(tw, "Discount %s (%s)\t\t\t-%s\t\n", applied.Code, percent(applied.DiscountFraction), money(b.Discount))
	}
	fmt.Fprintf(tw, "Total\t\t\t%s\t\n", money(b.Total))
	return tw.Flush()
}

func renderOutcome(w io.Writer, out checkout.Outcome) {
	switch out.Kind {
	case checkout.Approved:
		fmt.Fprintf(w, "Payment approved. Order %s.\n", out.OrderID)
	case checkout.Pending:
		fmt.Fprintf(w, "Payment pending. Order %s.\n", out.OrderID)
		if out.Pix != nil {
			fmt.Fprintf(w, "PIX copy and paste code:\n%s\n", out.Pix.QRCode)
			if out.Pix.ExpirationDate != nil {
				fmt.Fprintf(w, "Expires at %s.\n", out.Pix.ExpirationDate.Local().Format("2006-01-02 15:04"))
			}
		}
		if out.Boleto != nil {
			fmt.Fprintf(w, "Boleto: %s\n", out.Boleto.URL)
			if out.Boleto.Barcode != "" {
				fmt.Fprintf(w, "Barcode: %s\n", out.Boleto.Barcode)
			}
		}
	case checkout.Recoverable:
		fmt.Fprintf(w, "Payment not completed: %s\nYour cart was kept, you can try again.\n", out.Message)
	default:
		fmt.Fprintf(w, "%s\n", out.Message)
	}
}
