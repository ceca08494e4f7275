package checkout

import "github.com/shopspring/decimal"

type PricingRules struct {
	DeliveryMinTotal    decimal.Decimal
	DeliveryFeeUnderMin decimal.Decimal
}

func DefaultPricingRules() PricingRules {
	return PricingRules{
		DeliveryMinTotal:    decimal.NewFromInt(150),
		DeliveryFeeUnderMin: decimal.NewFromInt(30),
	}
}

type Totals struct {
	CartTotal   decimal.Decimal
	DeliveryFee decimal.Decimal
	TotalAmount decimal.Decimal
}

// CalculateTotals prices a cart. The fee rule runs for every fulfillment type
// but only DELIVERY pays it.
func CalculateTotals(cart *Cart, ft FulfillmentType, rules PricingRules) Totals {
	total := decimal.Zero
	for _, it := range cart.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	fee := decimal.Zero
	if total.LessThan(rules.DeliveryMinTotal) {
		fee = rules.DeliveryFeeUnderMin
	}
	if ft != FulfillmentDelivery {
		fee = decimal.Zero
	}

	return Totals{CartTotal: total, DeliveryFee: fee, TotalAmount: total.Add(fee)}
}
