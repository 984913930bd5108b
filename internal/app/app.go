// Package app wires one broker.Gateway and one fx.Cache behind the
// operations a caller actually needs: worst-case scenario reports and
// stop-loss creation. It runs one account pool against one backend
// rather than managing a pool of gateways, so there's a single Gateway
// field instead of a factory keyed by exchange.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
	"trading-core/internal/fx"
	"trading-core/internal/risk"
)

// App is the process-level façade over a single broker connection.
type App struct {
	Gateway      broker.Gateway
	Rates        *fx.Cache
	BaseCurrency string

	UnprotectedLossPercentage decimal.Decimal

	stats Stats
}

// New builds an App. unprotectedLossPercentage is a whole-number percent
// (e.g. decimal.NewFromInt(50) for 50%).
func New(gateway broker.Gateway, rates *fx.Cache, baseCurrency string, unprotectedLossPercentage decimal.Decimal) *App {
	return &App{
		Gateway:                   gateway,
		Rates:                     rates,
		BaseCurrency:              baseCurrency,
		UnprotectedLossPercentage: unprotectedLossPercentage,
	}
}

// CalculateWorstCaseScenarioForAccounts runs the risk engine over every
// configured account's positions and stop orders.
func (a *App) CalculateWorstCaseScenarioForAccounts(ctx context.Context) (risk.RiskReport, error) {
	positions, err := a.Gateway.GetAllPositions(ctx)
	if err != nil {
		return risk.RiskReport{}, fmt.Errorf("fetch positions: %w", err)
	}
	stops, err := a.Gateway.GetAllStopOrders(ctx)
	if err != nil {
		return risk.RiskReport{}, fmt.Errorf("fetch stop orders: %w", err)
	}

	report := risk.Calculate(ctx, positions, stops, a.BaseCurrency, a.Rates, a.UnprotectedLossPercentage)
	return report, nil
}

// UnprotectedPositions returns the report rows that have no real stop
// loss backing them (HasStopLoss false), a view over the same
// calculation used for alerting.
func (a *App) UnprotectedPositions(ctx context.Context) ([]risk.PositionRisk, error) {
	report, err := a.CalculateWorstCaseScenarioForAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]risk.PositionRisk, 0)
	for _, row := range report.PositionRisks {
		if !row.HasStopLoss {
			out = append(out, row)
		}
	}
	return out, nil
}

// assumedStop computes a directed-rounding stop price for newly created
// stops: floor for longs, ceil for shorts, both to 2 decimals, so the
// assumed protection never overstates what the order would actually
// guarantee.
func assumedStop(marketPrice decimal.Decimal, isLong bool, m decimal.Decimal) decimal.Decimal {
	if isLong {
		return marketPrice.Mul(decimal.NewFromInt(1).Sub(m)).RoundFloor(2)
	}
	return marketPrice.Mul(decimal.NewFromInt(1).Add(m)).RoundCeil(2)
}

// CreateStopLossForPosition places a stop for one account/conid if none
// exists yet. Zero quantity and an existing stop are business
// rejections, not errors.
func (a *App) CreateStopLossForPosition(ctx context.Context, accountID string, conid int64) (broker.OrderResult, error) {
	existing, err := a.Gateway.GetStopOrdersForConid(ctx, accountID, conid)
	if err != nil {
		return broker.OrderResult{}, err
	}
	if len(existing) > 0 {
		price := "unknown"
		if existing[0].StopPrice != nil {
			price = existing[0].StopPrice.String()
		}
		a.stats.recordRejected()
		return broker.OrderResult{Success: false, Message: "Stop loss already exists at price " + price}, nil
	}

	positions, err := a.Gateway.GetPositions(ctx, accountID)
	if err != nil {
		return broker.OrderResult{}, err
	}
	var pos *broker.Position
	for i := range positions {
		if positions[i].Conid == conid {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || pos.Quantity.IsZero() {
		a.stats.recordRejected()
		return broker.OrderResult{Success: false, Message: "Position size is zero"}, nil
	}

	return a.submitStop(ctx, accountID, *pos)
}

// CreateStopLossForPositionByTicker resolves a ticker within an account
// to its conid and delegates to CreateStopLossForPosition.
func (a *App) CreateStopLossForPositionByTicker(ctx context.Context, accountID, ticker string) (broker.OrderResult, error) {
	positions, err := a.Gateway.GetPositions(ctx, accountID)
	if err != nil {
		return broker.OrderResult{}, err
	}
	for _, p := range positions {
		if p.Ticker == ticker {
			return a.CreateStopLossForPosition(ctx, accountID, p.Conid)
		}
	}
	return broker.OrderResult{Success: false, Message: "no position found for ticker " + ticker}, nil
}

func (a *App) submitStop(ctx context.Context, accountID string, pos broker.Position) (broker.OrderResult, error) {
	m := a.UnprotectedLossPercentage.Div(decimal.NewFromInt(100)).Round(4)
	isLong := pos.Quantity.IsPositive()
	stopPrice := assumedStop(pos.MarketPrice, isLong, m)

	req := broker.StopLossOrderRequest{
		AccountID: accountID,
		Conid:     pos.Conid,
		StopPrice: stopPrice,
		Quantity:  pos.Quantity.Abs(),
		IsLong:    isLong,
	}

	a.stats.recordAttempted()
	result, err := a.Gateway.PlaceStopLossOrder(ctx, req)
	if err != nil {
		a.stats.recordRejected()
		return broker.OrderResult{}, err
	}
	if result.Success {
		a.stats.recordConfirmed()
	} else {
		a.stats.recordRejected()
	}
	return result, nil
}

// CreateMissingStopLosses submits a stop for every non-zero position in
// the account that has no active stop order covering its conid,
// concurrently and with bounded worker slots, adapted from the
// retry/worker-slot shape of an async order executor.
func (a *App) CreateMissingStopLosses(ctx context.Context, accountID string) ([]broker.OrderResult, error) {
	positions, err := a.Gateway.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stops, err := a.Gateway.GetStopOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}

	covered := make(map[int64]bool, len(stops))
	for _, o := range stops {
		covered[o.Conid] = true
	}

	var candidates []broker.Position
	for _, p := range positions {
		if p.Quantity.IsZero() || covered[p.Conid] {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	const maxWorkers = 4
	slots := make(chan struct{}, maxWorkers)
	results := make([]broker.OrderResult, len(candidates))
	errs := make([]error, len(candidates))

	var wg sync.WaitGroup
	for i, pos := range candidates {
		wg.Add(1)
		slots <- struct{}{}
		go func(i int, pos broker.Position) {
			defer wg.Done()
			defer func() { <-slots }()
			result, err := submitWithRetry(ctx, a, accountID, pos)
			results[i] = result
			errs[i] = err
		}(i, pos)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			log.Warn().Err(err).Str("account", accountID).Int64("conid", candidates[i].Conid).Msg("app: stop placement failed")
		}
	}
	return results, nil
}

// submitWithRetry retries up to twice on transient broker errors
// (broker.KindTransport/broker.KindTimeout); any other failure kind is
// not worth retrying and returns immediately.
func submitWithRetry(ctx context.Context, a *App, accountID string, pos broker.Position) (broker.OrderResult, error) {
	const maxRetries = 2
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := a.submitStop(ctx, accountID, pos)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return broker.OrderResult{}, lastErr
}

func isRetryable(err error) bool {
	bErr, ok := err.(*broker.Error)
	if !ok {
		return false
	}
	return bErr.Kind == broker.KindTransport || bErr.Kind == broker.KindTimeout
}

// Stats tracks placement counters across the life of the process.
type Stats struct {
	attempted int64
	confirmed int64
	rejected  int64
}

func (s *Stats) recordAttempted() { atomic.AddInt64(&s.attempted, 1) }
func (s *Stats) recordConfirmed() { atomic.AddInt64(&s.confirmed, 1) }
func (s *Stats) recordRejected()  { atomic.AddInt64(&s.rejected, 1) }

// StatsSnapshot is a point-in-time read of the App's placement and FX
// counters.
type StatsSnapshot struct {
	Attempted         int64
	Confirmed         int64
	Rejected          int64
	FxRefreshFailures int64
}

// StatsSnapshot returns a snapshot of placement counters accumulated so
// far, plus the FX cache's cumulative refresh-failure count.
func (a *App) StatsSnapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Attempted: atomic.LoadInt64(&a.stats.attempted),
		Confirmed: atomic.LoadInt64(&a.stats.confirmed),
		Rejected:  atomic.LoadInt64(&a.stats.rejected),
	}
	if a.Rates != nil {
		snap.FxRefreshFailures = a.Rates.RefreshFailures()
	}
	return snap
}
