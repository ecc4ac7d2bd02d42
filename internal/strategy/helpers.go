package strategy

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var errAllocationExceedsOne = errors.New("strategy allocations sum exceeds 1.0")

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func durationFromSeconds(s int64) time.Duration {
	if s <= 0 {
		s = 900 // default 15-minute opportunity TTL
	}
	return time.Duration(s) * time.Second
}
