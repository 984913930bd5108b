package socket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
)

// tickTypesLast is the set of tick-price field codes the broker reports
// as a "last trade" price; any one of them is usable as the position's
// current market price for a snapshot request.
var tickTypesLast = map[int]bool{4: true, 9: true, 68: true, 75: true, 72: true, 73: true, 66: true, 67: true}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (g *Gateway) dispatch(msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Warn().Err(err).Msg("socket: malformed message")
		return
	}

	switch env.Type {
	case "position":
		g.handlePosition(env.Data)
	case "positionEnd":
		g.handlePositionEnd()
	case "openOrder":
		g.handleOpenOrder(env.Data)
	case "openOrderEnd":
		g.handleOpenOrderEnd()
	case "orderStatus":
		g.handleOrderStatus(env.Data)
	case "tickPrice":
		g.handleTickPrice(env.Data)
	case "tickSnapshotEnd":
		g.handleTickSnapshotEnd(env.Data)
	case "error":
		g.handleError(env.Data)
	default:
		log.Debug().Str("type", env.Type).Msg("socket: unhandled message type")
	}
}

type positionMsg struct {
	AccountID string `json:"accountId"`
	Conid     int64  `json:"conid"`
	Ticker    string `json:"ticker"`
	Position  string `json:"position"`
	AvgCost   string `json:"avgCost"`
	Currency  string `json:"currency"`
}

func (g *Gateway) handlePosition(data json.RawMessage) {
	var m positionMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Msg("socket: bad position payload")
		return
	}
	if g.positionFuture == nil {
		return
	}
	qty, err := decimal.NewFromString(m.Position)
	if err != nil {
		return
	}
	avg, _ := decimal.NewFromString(m.AvgCost)
	g.positionFuture.add(broker.Position{
		AccountID: m.AccountID,
		Conid:     m.Conid,
		Ticker:    m.Ticker,
		Quantity:  qty,
		AvgPrice:  avg,
		Currency:  m.Currency,
	})
}

func (g *Gateway) handlePositionEnd() {
	if g.positionFuture != nil {
		g.positionFuture.complete()
	}
}

type openOrderMsg struct {
	OrderID           string  `json:"orderId"`
	AccountID         string  `json:"accountId"`
	Conid             int64   `json:"conid"`
	Ticker            string  `json:"ticker"`
	OrderType         string  `json:"orderType"`
	Side              string  `json:"side"`
	Price             *string `json:"price"`
	StopPrice         *string `json:"auxPrice"`
	Quantity          string  `json:"totalQuantity"`
	RemainingQuantity *string `json:"remaining"`
	Status            string  `json:"status"`
}

func (g *Gateway) handleOpenOrder(data json.RawMessage) {
	var m openOrderMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Msg("socket: bad openOrder payload")
		return
	}
	if g.orderFuture == nil {
		return
	}
	qty, err := decimal.NewFromString(m.Quantity)
	if err != nil {
		return
	}
	var price, stopPrice, remaining *decimal.Decimal
	if m.Price != nil {
		if v, err := decimal.NewFromString(*m.Price); err == nil {
			price = &v
		}
	}
	if m.StopPrice != nil {
		if v, err := decimal.NewFromString(*m.StopPrice); err == nil {
			stopPrice = &v
		}
	}
	if m.RemainingQuantity != nil {
		if v, err := decimal.NewFromString(*m.RemainingQuantity); err == nil {
			remaining = &v
		}
	}
	g.orderFuture.add(broker.Order{
		OrderID:           m.OrderID,
		AccountID:         m.AccountID,
		Conid:             m.Conid,
		Ticker:            m.Ticker,
		OrderType:         m.OrderType,
		Side:              m.Side,
		Price:             price,
		StopPrice:         stopPrice,
		Quantity:          qty,
		RemainingQuantity: remaining,
		Status:            m.Status,
	})
}

func (g *Gateway) handleOpenOrderEnd() {
	if g.orderFuture != nil {
		g.orderFuture.complete()
	}
}

type orderStatusMsg struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// rejectedOrderStatuses are terminal, non-filled statuses that mean the
// order never made it to the book.
var rejectedOrderStatuses = map[string]bool{"cancelled": true, "apicancelled": true, "inactive": true}

func orderStatusSuccess(status string) bool {
	return !rejectedOrderStatuses[strings.ToLower(status)]
}

func (g *Gateway) handleOrderStatus(data json.RawMessage) {
	var m orderStatusMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Msg("socket: bad orderStatus payload")
		return
	}
	g.orderMu.Lock()
	f, ok := g.orderStatusFutures[m.OrderID]
	delete(g.orderStatusFutures, m.OrderID)
	g.orderMu.Unlock()
	if !ok {
		return
	}
	f.resolve(broker.OrderResult{
		Success: orderStatusSuccess(m.Status),
		OrderID: fmt.Sprintf("%d", m.OrderID),
		Message: m.Status,
	})
}

type tickPriceMsg struct {
	ReqID    int64  `json:"reqId"`
	TickType int    `json:"tickType"`
	Price    string `json:"price"`
}

func (g *Gateway) handleTickPrice(data json.RawMessage) {
	var m tickPriceMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	if !tickTypesLast[m.TickType] {
		return
	}
	price, err := decimal.NewFromString(m.Price)
	if err != nil || price.IsZero() {
		return
	}
	g.mktMu.Lock()
	f, ok := g.mktFutures[m.ReqID]
	g.mktMu.Unlock()
	if ok {
		f.resolve(price, true)
	}
}

type tickSnapshotEndMsg struct {
	ReqID int64 `json:"reqId"`
}

func (g *Gateway) handleTickSnapshotEnd(data json.RawMessage) {
	var m tickSnapshotEndMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	g.mktMu.Lock()
	f, ok := g.mktFutures[m.ReqID]
	g.mktMu.Unlock()
	if ok {
		f.resolve(decimal.Decimal{}, false)
	}
}

type errorMsg struct {
	ReqID int64  `json:"reqId"`
	Code  int    `json:"code"`
	Msg   string `json:"message"`
}

// benignErrorCodes are informational (e.g. "no market data permissions
// during competing session") and don't fail any outstanding future.
var benignErrorCodes = map[int]bool{10167: true, 300: true}

// fatalErrorCodes indicate connectivity loss to the farm; they fail
// every outstanding future with NotConnected.
var fatalErrorCodes = map[int]bool{502: true, 504: true}

func (g *Gateway) handleError(data json.RawMessage) {
	var m errorMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	if benignErrorCodes[m.Code] {
		log.Debug().Int("code", m.Code).Str("message", m.Msg).Msg("socket: benign error")
		return
	}
	if fatalErrorCodes[m.Code] {
		log.Error().Int("code", m.Code).Str("message", m.Msg).Msg("socket: fatal error, disconnecting")
		g.connectionClosed()
		return
	}

	g.orderMu.Lock()
	if f, ok := g.orderStatusFutures[m.ReqID]; ok {
		delete(g.orderStatusFutures, m.ReqID)
		g.orderMu.Unlock()
		f.resolve(broker.OrderResult{Success: false, OrderID: fmt.Sprintf("%d", m.ReqID), Message: m.Msg})
		return
	}
	g.orderMu.Unlock()

	err := broker.NewError(broker.KindProtocol, &protocolError{code: m.Code, msg: m.Msg})
	g.mktMu.Lock()
	if f, ok := g.mktFutures[m.ReqID]; ok {
		f.fail(err)
	}
	g.mktMu.Unlock()
}

type protocolError struct {
	code int
	msg  string
}

func (e *protocolError) Error() string {
	return e.msg
}
