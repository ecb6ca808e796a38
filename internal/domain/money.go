package domain

import (
	"github.com/shopspring/decimal"
)

// RoundAmount truncates amount to the asset accuracy. Settlement never rounds up
// so the settlement account is not asked for more than it holds.
func RoundAmount(amount decimal.Decimal, accuracy int32) decimal.Decimal {
	if accuracy < 0 {
		return amount
	}
	return amount.Truncate(accuracy)
}

// ProrateFee splits fee proportionally to share/total.
// A zero total yields a zero share.
func ProrateFee(fee, share, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() || fee.IsZero() {
		return decimal.Zero
	}
	return fee.Mul(share).Div(total)
}

// Convert returns the destination amount for volume at price, where price is
// the number of destination units per source unit.
func Convert(volume, price decimal.Decimal) decimal.Decimal {
	return volume.Mul(price)
}
