// Package stopprice extracts an effective stop price from a broker order,
// falling back to free-text parsing when the structured fields are absent.
package stopprice

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
)

var stopRe = regexp.MustCompile(`(?i)stop\s+([\d,]+\.?\d*)`)

// Extract returns order.StopPrice if set, else order.Price, else a value
// parsed from order.Description via "(?i)stop\s+([\d,]+\.?\d*)" with commas
// stripped. Returns (zero, false) when none of those yield a value.
func Extract(order broker.Order) (decimal.Decimal, bool) {
	if order.StopPrice != nil {
		return *order.StopPrice, true
	}
	if order.Price != nil {
		return *order.Price, true
	}

	m := stopRe.FindStringSubmatch(order.Description)
	if m == nil {
		return decimal.Zero, false
	}
	cleaned := strings.ReplaceAll(m[1], ",", "")
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		log.Warn().
			Str("order_id", order.OrderID).
			Str("raw", m[1]).
			Err(err).
			Msg("stopprice: failed to parse stop price from description")
		return decimal.Zero, false
	}
	return price, true
}
