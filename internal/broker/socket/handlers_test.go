package socket

import (
	"context"
	"testing"
	"time"
)

func TestDispatchPositionAndPositionEnd(t *testing.T) {
	g := New(Config{})
	future := newPositionFuture()
	g.positionFuture = future

	g.dispatch([]byte(`{"type":"position","data":{"accountId":"A","conid":1,"ticker":"AAPL","position":"100","avgCost":"150.00","currency":"USD"}}`))
	g.dispatch([]byte(`{"type":"positionEnd","data":{}}`))

	rows, err := future.wait(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Ticker != "AAPL" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestDispatchTickPriceOnlyResolvesLastTradeTypes(t *testing.T) {
	g := New(Config{})
	future := newMktDataFuture()
	g.mktFutures[7] = future

	// tickType 1 (bid) is not a last-trade type and must be ignored.
	g.dispatch([]byte(`{"type":"tickPrice","data":{"reqId":7,"tickType":1,"price":"99.00"}}`))
	select {
	case <-future.done:
		t.Fatal("future resolved on a non-last-trade tick type")
	default:
	}

	g.dispatch([]byte(`{"type":"tickPrice","data":{"reqId":7,"tickType":4,"price":"101.50"}}`))
	price, ok, err := future.wait(time.Second)
	if err != nil || !ok {
		t.Fatalf("expected resolved price, got ok=%v err=%v", ok, err)
	}
	if price.String() != "101.5" {
		t.Errorf("price = %s, want 101.5", price.String())
	}
}

func TestDispatchBenignErrorDoesNotFailFuture(t *testing.T) {
	g := New(Config{})
	future := newMktDataFuture()
	g.mktFutures[3] = future

	g.dispatch([]byte(`{"type":"error","data":{"reqId":3,"code":10167,"message":"delayed data"}}`))

	select {
	case <-future.done:
		t.Fatal("benign error should not resolve the future")
	default:
	}
}

func TestDispatchNonBenignErrorFailsFuture(t *testing.T) {
	g := New(Config{})
	future := newMktDataFuture()
	g.mktFutures[3] = future

	g.dispatch([]byte(`{"type":"error","data":{"reqId":3,"code":321,"message":"bad request"}}`))

	_, _, err := future.wait(time.Second)
	if err == nil {
		t.Fatal("expected error from non-benign error code")
	}
}

func TestDispatchOrderStatusResolvesFuture(t *testing.T) {
	g := New(Config{})
	future := newOrderStatusFuture()
	g.orderStatusFutures[42] = future

	g.dispatch([]byte(`{"type":"orderStatus","data":{"orderId":42,"status":"filled"}}`))

	result, ok, err := future.wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !result.Success || result.OrderID != "42" || result.Message != "filled" {
		t.Errorf("unexpected result: %+v ok=%v", result, ok)
	}
	if _, stillPending := g.orderStatusFutures[42]; stillPending {
		t.Error("expected future to be removed from the registry")
	}
}

func TestDispatchOrderStatusCancelledReportsFailure(t *testing.T) {
	g := New(Config{})
	future := newOrderStatusFuture()
	g.orderStatusFutures[7] = future

	g.dispatch([]byte(`{"type":"orderStatus","data":{"orderId":7,"status":"Cancelled"}}`))

	result, ok, err := future.wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || result.Success {
		t.Errorf("expected a resolved rejection, got %+v ok=%v", result, ok)
	}
}

func TestDispatchBusinessRejectionErrorResolvesOrderStatusFuture(t *testing.T) {
	g := New(Config{})
	future := newOrderStatusFuture()
	g.orderStatusFutures[9] = future

	g.dispatch([]byte(`{"type":"error","data":{"reqId":9,"code":201,"message":"Order rejected - insufficient margin"}}`))

	result, ok, err := future.wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("expected a business rejection via OrderResult, not a Go error: %v", err)
	}
	if !ok || result.Success {
		t.Errorf("expected Success=false, got %+v ok=%v", result, ok)
	}
	if result.Message != "Order rejected - insufficient margin" {
		t.Errorf("Message = %q", result.Message)
	}
}
