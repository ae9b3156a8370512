package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"billpoint/backend/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// priceBill computes the stored bill amounts from snapshot line items.
// Tax applies to the discounted base, clamped at zero so a discount
// larger than the subtotal cannot produce negative tax:
//
//	subtotal  = Σ quantity × unitPrice
//	taxAmount = max(0, subtotal − discount) × taxRate / 100
//	total     = subtotal − discount + taxAmount
func priceBill(items []domain.LineItem, taxRate float64, discount decimal.Decimal) (subtotal, taxAmount, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal)
	}

	base := subtotal.Sub(discount)
	if base.IsNegative() {
		base = decimal.Zero
	}
	taxAmount = base.Mul(decimal.NewFromFloat(taxRate)).Div(oneHundred)
	total = subtotal.Sub(discount).Add(taxAmount)
	return subtotal, taxAmount, total
}

func validateSettleRequest(req domain.SettleBillRequest) error {
	if len(req.Items) == 0 {
		return &ValidationError{Msg: "bill requires at least one item"}
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return &ValidationError{Msg: fmt.Sprintf("item %d: product_id is required", i)}
		}
		if item.Quantity < 1 {
			return &ValidationError{Msg: fmt.Sprintf("item %d: quantity must be at least 1", i)}
		}
		if item.UnitPrice.IsNegative() {
			return &ValidationError{Msg: fmt.Sprintf("item %d: price must not be negative", i)}
		}
	}
	if req.TaxRate < 0 || req.TaxRate > 100 {
		return &ValidationError{Msg: "tax_rate must be between 0 and 100"}
	}
	if req.Discount.IsNegative() {
		return &ValidationError{Msg: "discount must not be negative"}
	}
	if !req.PaymentMethod.Valid() {
		return &ValidationError{Msg: fmt.Sprintf("unsupported payment method %q", req.PaymentMethod)}
	}
	return nil
}
