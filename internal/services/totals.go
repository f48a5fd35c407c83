package services

import (
	"math"

	domain "github.com/payforge/api/internal/domain"
)

// TotalsOptions carries the optional pricing inputs for a totals calculation.
// Nil fields omit the corresponding total line entirely.
type TotalsOptions struct {
	TaxRate        *float64
	ShippingAmount *int64
	DiscountAmount *int64
}

// CalculateTotals aggregates line items into an ordered totals breakdown.
// The result always contains a subtotal and a total line; tax, shipping, and
// discount lines appear only when the matching option is provided. Discounts
// are supplied as positive amounts and stored negated. The function is pure
// and may be called any number of times for the same inputs.
func CalculateTotals(items []domain.LineItem, currency string, opts TotalsOptions) []domain.Total {
	var subtotal int64
	for _, item := range items {
		subtotal += item.TotalPrice
	}

	totals := []domain.Total{
		{Type: domain.TotalTypeSubtotal, Amount: subtotal, Currency: currency, Label: "Subtotal"},
	}

	grand := subtotal

	if opts.TaxRate != nil {
		tax := int64(math.Round(float64(subtotal) * *opts.TaxRate))
		totals = append(totals, domain.Total{Type: domain.TotalTypeTax, Amount: tax, Currency: currency, Label: "Tax"})
		grand += tax
	}

	if opts.ShippingAmount != nil {
		totals = append(totals, domain.Total{Type: domain.TotalTypeShipping, Amount: *opts.ShippingAmount, Currency: currency, Label: "Shipping"})
		grand += *opts.ShippingAmount
	}

	if opts.DiscountAmount != nil {
		discount := -*opts.DiscountAmount
		totals = append(totals, domain.Total{Type: domain.TotalTypeDiscount, Amount: discount, Currency: currency, Label: "Discount"})
		grand += discount
	}

	totals = append(totals, domain.Total{Type: domain.TotalTypeTotal, Amount: grand, Currency: currency, Label: "Total"})

	return totals
}
