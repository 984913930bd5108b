package socket

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
)

// GetPositions requests a positions snapshot for every configured
// account in one streamed request (the socket protocol has no
// per-account positions call), then filters to the requested account.
// A single-slot future serializes concurrent callers.
func (g *Gateway) GetPositions(ctx context.Context, accountID string) ([]broker.Position, error) {
	all, err := g.getAllPositionsSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(all))
	for _, p := range all {
		if p.AccountID == accountID && !p.Quantity.IsZero() {
			out = append(out, p)
		}
	}
	return g.enrichMarketPrices(ctx, out)
}

func (g *Gateway) getAllPositionsSnapshot(ctx context.Context) ([]broker.Position, error) {
	g.mu.Lock()
	if g.positionFuture != nil {
		existing := g.positionFuture
		g.mu.Unlock()
		return existing.wait(g.cfg.PositionsTimeout)
	}
	future := newPositionFuture()
	g.positionFuture = future
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.positionFuture = nil
		g.mu.Unlock()
	}()

	if err := g.send(reqPositions(g.nextRequestID())); err != nil {
		future.fail(err)
	}
	return future.wait(g.cfg.PositionsTimeout)
}

func (g *Gateway) GetAllPositions(ctx context.Context) ([]broker.Position, error) {
	all, err := g.getAllPositionsSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	nonZero := make([]broker.Position, 0, len(all))
	for _, p := range all {
		if !p.Quantity.IsZero() {
			nonZero = append(nonZero, p)
		}
	}
	return g.enrichMarketPrices(ctx, broker.DedupPositionsByKey(nonZero))
}

// enrichMarketPrices issues one snapshot market data request per
// position and fills in MarketPrice. Missing prices (timeout or no
// permissions) leave the position's MarketPrice at its zero value
// rather than failing the whole call.
func (g *Gateway) enrichMarketPrices(ctx context.Context, positions []broker.Position) ([]broker.Position, error) {
	if len(positions) == 0 {
		return positions, nil
	}
	_ = g.send(reqMarketDataType(3)) // delayed-frozen fallback, best effort

	out := make([]broker.Position, len(positions))
	copy(out, positions)

	for i := range out {
		price, ok := g.requestLastPrice(ctx, out[i].Conid)
		if ok {
			out[i].MarketPrice = price
		}
	}
	return out, nil
}

func (g *Gateway) requestLastPrice(ctx context.Context, conid int64) (decimal.Decimal, bool) {
	reqID := g.nextRequestID()
	future := newMktDataFuture()

	g.mktMu.Lock()
	g.mktFutures[reqID] = future
	g.mktMu.Unlock()
	defer func() {
		g.mktMu.Lock()
		delete(g.mktFutures, reqID)
		g.mktMu.Unlock()
		_ = g.send(cancelMktData(reqID))
	}()

	if err := g.send(reqMktData(reqID, conid)); err != nil {
		return decimal.Decimal{}, false
	}
	price, ok, err := future.wait(g.cfg.MarketDataTimeout)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return price, ok
}

// GetOrders requests the full open-order snapshot and filters by
// account. A timed-out request returns whatever arrived rather than
// failing outright.
func (g *Gateway) GetOrders(ctx context.Context, accountID string) ([]broker.Order, error) {
	all, err := g.getAllOrdersSnapshot(ctx)
	out := make([]broker.Order, 0, len(all))
	for _, o := range all {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	return out, err
}

func (g *Gateway) getAllOrdersSnapshot(ctx context.Context) ([]broker.Order, error) {
	g.mu.Lock()
	if g.orderFuture != nil {
		existing := g.orderFuture
		g.mu.Unlock()
		return existing.wait(g.cfg.OrdersTimeout)
	}
	future := newOrderFuture()
	g.orderFuture = future
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.orderFuture = nil
		g.mu.Unlock()
	}()

	if err := g.send(reqOpenOrders(g.nextRequestID())); err != nil {
		future.fail(err)
	}
	return future.wait(g.cfg.OrdersTimeout)
}

func (g *Gateway) GetAllOrders(ctx context.Context) ([]broker.Order, error) {
	return g.getAllOrdersSnapshot(ctx)
}

func (g *Gateway) GetStopOrders(ctx context.Context, accountID string) ([]broker.Order, error) {
	orders, err := g.GetOrders(ctx, accountID)
	return broker.FilterActiveStops(orders), err
}

func (g *Gateway) GetAllStopOrders(ctx context.Context) ([]broker.Order, error) {
	orders, err := g.GetAllOrders(ctx)
	return broker.DedupOrdersByID(broker.FilterActiveStops(orders)), err
}

func (g *Gateway) GetStopOrdersForConid(ctx context.Context, accountID string, conid int64) ([]broker.Order, error) {
	stops, err := g.GetStopOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0)
	for _, o := range stops {
		if o.Conid == conid {
			out = append(out, o)
		}
	}
	return out, nil
}

// PlaceStopLossOrder submits a stop order under a client-assigned order
// id and waits up to PlaceOrderTimeout for an orderStatus or error
// confirmation to resolve it. A plain timeout (no confirmation either
// way) is not treated as failure: the order may still be working
// server-side, so the gateway reports success with a pending message.
func (g *Gateway) PlaceStopLossOrder(ctx context.Context, req broker.StopLossOrderRequest) (broker.OrderResult, error) {
	orderID := g.nextRequestID()
	future := newOrderStatusFuture()

	g.orderMu.Lock()
	g.orderStatusFutures[orderID] = future
	g.orderMu.Unlock()
	defer func() {
		g.orderMu.Lock()
		delete(g.orderStatusFutures, orderID)
		g.orderMu.Unlock()
	}()

	msg := placeOrder(orderID, req.AccountID, req.Conid, req.Side(), req.Quantity.String(), req.StopPrice.String())
	if err := g.send(msg); err != nil {
		return broker.OrderResult{}, err
	}

	result, ok, err := future.wait(ctx, g.cfg.PlaceOrderTimeout)
	if err != nil {
		return broker.OrderResult{}, err
	}
	if ok {
		return result, nil
	}
	return broker.OrderResult{
		Success: true,
		OrderID: fmt.Sprintf("%d", orderID),
		Message: "confirmation pending",
	}, nil
}
