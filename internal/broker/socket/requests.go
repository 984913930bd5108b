package socket

import (
	"github.com/google/uuid"
)

func reqPositions(reqID int64) map[string]any {
	return map[string]any{"op": "reqPositions", "reqId": reqID}
}

func reqOpenOrders(reqID int64) map[string]any {
	return map[string]any{"op": "reqAllOpenOrders", "reqId": reqID}
}

func reqMarketDataType(mode int) map[string]any {
	return map[string]any{"op": "reqMarketDataType", "marketDataType": mode}
}

func reqMktData(reqID int64, conid int64) map[string]any {
	return map[string]any{"op": "reqMktData", "reqId": reqID, "conid": conid, "snapshot": true}
}

func cancelMktData(reqID int64) map[string]any {
	return map[string]any{"op": "cancelMktData", "reqId": reqID}
}

// placeOrder submits a stop order under a client-assigned order id
// (drawn from the same counter the server seeded via nextValidId at
// connect time), not a server-assigned one: orderStatus and error
// callbacks referencing this id correlate back to this placement.
func placeOrder(orderID int64, accountID string, conid int64, side string, quantity, stopPrice string) map[string]any {
	return map[string]any{
		"op":        "placeOrder",
		"orderId":   orderID,
		"accountId": accountID,
		"conid":     conid,
		"orderType": "STP",
		"side":      side,
		"quantity":  quantity,
		"auxPrice":  stopPrice,
		"tif":       "GTC",
		"cOID":      uuid.NewString(),
	}
}
