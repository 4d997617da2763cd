package domain

import "github.com/shopspring/decimal"

// Priority is the push priority attached to a notification.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

var (
	feeRate = decimal.RequireFromString("0.03")
	minFee  = decimal.NewFromInt(2)
)

// Valuation holds the figures derived from an Item when it is announced.
type Valuation struct {
	Fees     decimal.Decimal
	Profit   int64
	Priority Priority
}

// Fees is 3% of the sold price with a floor of 2 currency units.
func Fees(item Item) decimal.Decimal {
	return decimal.Max(item.SoldPrice.Mul(feeRate), minFee)
}

// Profit is floor(original - sold - fees). Losses round away from zero.
func Profit(item Item) int64 {
	return item.OriginalPrice.Sub(item.SoldPrice).Sub(Fees(item)).Floor().IntPart()
}

// PriorityFor maps a profit to its priority tier.
func PriorityFor(profit int64) Priority {
	switch {
	case profit > 30:
		return PriorityHigh
	case profit > 10:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Evaluate computes fees, profit and priority for item.
func Evaluate(item Item) Valuation {
	profit := Profit(item)
	return Valuation{
		Fees:     Fees(item),
		Profit:   profit,
		Priority: PriorityFor(profit),
	}
}
