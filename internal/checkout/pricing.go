package checkout

import "github.com/imrishuroy/go-storefront-orderflow/internal/money"

// Pricing holds the shipping rule and order currency.
type Pricing struct {
	FreeShippingThreshold money.Amount
	FlatShippingFee       money.Amount
	Currency              string
}

func DefaultPricing() Pricing {
	return Pricing{
		FreeShippingThreshold: money.New(500),
		FlatShippingFee:       money.New(50),
		Currency:              "INR",
	}
}

type Quote struct {
	Subtotal    money.Amount
	ShippingFee money.Amount
	Total       money.Amount
}

// Quote ships free strictly above the threshold.
func (p Pricing) Quote(subtotal money.Amount) Quote {
	fee := p.FlatShippingFee
	if subtotal.GreaterThan(p.FreeShippingThreshold) {
		fee = money.Zero
	}
	return Quote{Subtotal: subtotal, ShippingFee: fee, Total: subtotal.Add(fee)}
}
