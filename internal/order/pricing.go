package order

import "math"

type PricingConfig struct {
	TaxRate               float64
	FreeShippingThreshold int64
	ShippingFee           int64
}

func DefaultPricing() PricingConfig {
	return PricingConfig{TaxRate: 0.18, FreeShippingThreshold: 1000, ShippingFee: 50}
}

type Pricing struct {
	Subtotal    int64
	Tax         int64
	ShippingFee int64
	Total       int64
}

// CalculatePricing prices the snapshot once; the result is never recomputed for an order.
// Shipping is free only strictly above the threshold.
func CalculatePricing(items []LineItem, cfg PricingConfig) Pricing {
	var p Pricing
	for _, it := range items {
		p.Subtotal += it.UnitPrice * int64(it.Quantity)
	}

	if p.Subtotal <= cfg.FreeShippingThreshold {
		p.ShippingFee = cfg.ShippingFee
	}
	p.Tax = int64(math.Round(float64(p.Subtotal) * cfg.TaxRate))
	p.Total = p.Subtotal + p.Tax + p.ShippingFee
	return p
}
