// Package broker defines the venue-agnostic contract the risk engine and
// application façade depend on: positions, orders, connection status, and
// stop-loss placement, shared by the REST and socket gateway
// implementations in the rest and socket subpackages.
package broker

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a configured account slot, used for diagnostics and
// keep-alive bookkeeping. It carries no balance data: the risk engine
// never sizes off it.
type Account struct {
	AccountID      string
	LastSwitchedAt time.Time // zero if never explicitly switched to
}

// Position is a read-only snapshot row for one instrument in one account.
type Position struct {
	AccountID   string
	Conid       int64
	Ticker      string
	Quantity    decimal.Decimal // signed: >0 long, <0 short, =0 closed
	AvgPrice    decimal.Decimal
	MarketPrice decimal.Decimal
	Currency    string
}

// Key identifies a position/order group by (conid, accountId).
func (p Position) Key() PositionKey {
	return PositionKey{Conid: p.Conid, AccountID: p.AccountID}
}

// PositionKey is the (conid, accountId) join key used throughout the risk
// engine and the gateways' dedup logic.
type PositionKey struct {
	Conid     int64
	AccountID string
}

// Order is a broker order row, stop or otherwise.
type Order struct {
	OrderID           string // opaque, stable across refreshes
	AccountID         string
	Conid             int64
	Ticker            string
	OrderType         string // free-form; stop orders match "STP" or contain "stop"
	Side              string // SELL/BUY
	Price             *decimal.Decimal
	StopPrice         *decimal.Decimal
	Quantity          decimal.Decimal
	RemainingQuantity *decimal.Decimal // null means "use Quantity"
	Status            string
	Description       string // free text, used as a stop-price parse fallback
}

// Key identifies the (conid, accountId) group this order belongs to.
func (o Order) Key() PositionKey {
	return PositionKey{Conid: o.Conid, AccountID: o.AccountID}
}

var cancelledStatuses = map[string]bool{
	"cancelled":    true,
	"filled":       true,
	"apicancelled": true,
}

// IsActive reports whether the order is live: active iff status is
// empty or not one of Cancelled/Filled/ApiCancelled (case-insensitive).
func (o Order) IsActive() bool {
	if o.Status == "" {
		return true
	}
	return !cancelledStatuses[strings.ToLower(o.Status)]
}

// IsStop reports whether OrderType matches "STP" case-insensitively or
// contains "stop".
func (o Order) IsStop() bool {
	t := strings.ToLower(o.OrderType)
	return t == "stp" || strings.Contains(t, "stop")
}

// ConnectionStatus reports the broker session's transport/auth state.
type ConnectionStatus struct {
	Reachable     bool
	Authenticated bool
	Connected     bool
	Competing     bool
	Message       string
}

// StopLossOrderRequest is the input to PlaceStopLossOrder.
type StopLossOrderRequest struct {
	AccountID string
	Conid     int64
	StopPrice decimal.Decimal
	Quantity  decimal.Decimal // positive
	IsLong    bool            // true: SELL stop; false: BUY stop (short cover)
}

// Side returns the order side implied by IsLong.
func (r StopLossOrderRequest) Side() string {
	if r.IsLong {
		return "SELL"
	}
	return "BUY"
}

// OrderResult is the outcome of a placement call.
type OrderResult struct {
	Success bool
	OrderID string
	Message string
}
