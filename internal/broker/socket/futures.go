package socket

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
)

// positionFuture collects streamed position rows until positionEnd
// arrives or the caller's deadline expires. Only one positions request
// may be in flight at a time; concurrent callers share the same future.
type positionFuture struct {
	mu   sync.Mutex
	rows []broker.Position
	done chan struct{}
	err  error
}

func newPositionFuture() *positionFuture {
	return &positionFuture{done: make(chan struct{})}
}

func (f *positionFuture) add(p broker.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.rows = append(f.rows, p)
}

func (f *positionFuture) complete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *positionFuture) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.complete()
}

func (f *positionFuture) wait(timeout time.Duration) ([]broker.Position, error) {
	select {
	case <-f.done:
	case <-time.After(timeout):
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

// orderFuture collects streamed openOrder rows until openOrderEnd, but
// tolerates a timeout by returning whatever arrived so far — orders is
// a best-effort snapshot.
type orderFuture struct {
	mu   sync.Mutex
	rows []broker.Order
	done chan struct{}
	err  error
}

func newOrderFuture() *orderFuture {
	return &orderFuture{done: make(chan struct{})}
}

func (f *orderFuture) add(o broker.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.rows = append(f.rows, o)
}

func (f *orderFuture) complete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *orderFuture) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.complete()
}

// wait returns rows collected so far on timeout without treating it as
// an error, matching getOrders' partial-result contract.
func (f *orderFuture) wait(timeout time.Duration) ([]broker.Order, error) {
	select {
	case <-f.done:
	case <-time.After(timeout):
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.rows, f.err
	}
	return f.rows, nil
}

// mktDataFuture resolves to a single last-trade price for one conid's
// snapshot request.
type mktDataFuture struct {
	done chan struct{}
	once sync.Once

	price decimal.Decimal
	ok    bool
	err   error
}

func newMktDataFuture() *mktDataFuture {
	return &mktDataFuture{done: make(chan struct{})}
}

func (f *mktDataFuture) resolve(price decimal.Decimal, ok bool) {
	f.once.Do(func() {
		f.price = price
		f.ok = ok
		close(f.done)
	})
}

func (f *mktDataFuture) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *mktDataFuture) wait(timeout time.Duration) (decimal.Decimal, bool, error) {
	select {
	case <-f.done:
	case <-time.After(timeout):
		return decimal.Decimal{}, false, nil
	}
	return f.price, f.ok, f.err
}

// orderStatusFuture resolves once to the broker's confirmation or
// rejection of a single placed order, keyed by the client-assigned order
// id. A plain timeout is not failure: the order may still be working.
type orderStatusFuture struct {
	done chan struct{}
	once sync.Once

	result broker.OrderResult
	err    error
}

func newOrderStatusFuture() *orderStatusFuture {
	return &orderStatusFuture{done: make(chan struct{})}
}

func (f *orderStatusFuture) resolve(result broker.OrderResult) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

func (f *orderStatusFuture) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *orderStatusFuture) wait(ctx context.Context, timeout time.Duration) (broker.OrderResult, bool, error) {
	select {
	case <-f.done:
		return f.result, f.err == nil, f.err
	case <-ctx.Done():
		return broker.OrderResult{}, false, broker.NewError(broker.KindTimeout, ctx.Err())
	case <-time.After(timeout):
		return broker.OrderResult{}, false, nil
	}
}
