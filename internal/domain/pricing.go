package domain

import (
	"fmt"
	"math"
)

// Money amounts are held in céntimos (1/100 of a sol) to keep totals exact.

// CentsFromSoles converts a decimal sol amount, as stored by the storefront, into céntimos.
func CentsFromSoles(soles float64) int64 {
	return int64(math.Round(soles * 100))
}

// SolesFromCents converts céntimos back to the decimal representation used in documents and responses.
func SolesFromCents(cents int64) float64 {
	return float64(cents) / 100
}

// FormatSoles renders an amount for customer-facing text, e.g. "S/ 89.90".
func FormatSoles(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sS/ %d.%02d", sign, cents/100, cents%100)
}

// OrderTotals sums the item snapshots and adds shipping.
func OrderTotals(items []OrderItemSnapshot, shipping int64) (subtotal int64, total int64) {
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return subtotal, subtotal + shipping
}
