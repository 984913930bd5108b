package risk

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
	"trading-core/internal/fx"
	"trading-core/internal/stopprice"
)

// Converter is the subset of fx.Cache the engine needs; an interface so
// tests can supply a fixed-rate stub instead of a real cache.
type Converter interface {
	ConvertToBase(ctx context.Context, amount decimal.Decimal, fromCurrency string) decimal.Decimal
}

var _ Converter = (*fx.Cache)(nil)

type stopGroup struct {
	orders []broker.Order
}

// Calculate is the pure reconciliation at the core of the risk engine:
// join positions with stop orders by (conid, accountId), weight-average
// partial stops, assume a fallback stop for unprotected positions, and
// compute locked/at-risk profit in native and base currency.
func Calculate(
	ctx context.Context,
	positions []broker.Position,
	stopOrders []broker.Order,
	baseCurrency string,
	converter Converter,
	unprotectedLossPercentage decimal.Decimal,
) RiskReport {
	// Step 1: build the position index, first-wins on duplicate (conid, accountId).
	index := make(map[broker.PositionKey]broker.Position, len(positions))
	order := make([]broker.PositionKey, 0, len(positions))
	for _, p := range positions {
		key := p.Key()
		if _, exists := index[key]; exists {
			continue
		}
		index[key] = p
		order = append(order, key)
	}

	// Group stop orders by (conid, accountId).
	groups := make(map[broker.PositionKey]*stopGroup)
	for _, o := range stopOrders {
		key := o.Key()
		g, ok := groups[key]
		if !ok {
			g = &stopGroup{}
			groups[key] = g
		}
		g.orders = append(g.orders, o)
	}

	rows := make([]PositionRisk, 0, len(order))
	protected := make(map[broker.PositionKey]bool, len(groups))

	// Step 2: protected positions.
	for _, key := range order {
		pos, ok := index[key]
		if !ok {
			continue
		}
		group, ok := groups[key]
		if !ok {
			continue
		}

		totalQty := decimal.Zero
		weightedStop := decimal.Zero
		ticker := ""
		haveStop := false
		for _, o := range group.orders {
			stopPx, ok := stopprice.Extract(o)
			if !ok {
				continue
			}
			haveStop = true
			if ticker == "" {
				ticker = o.Ticker
			}
			qty := o.Quantity
			if o.RemainingQuantity != nil {
				qty = *o.RemainingQuantity
			}
			qty = qty.Abs()
			totalQty = totalQty.Add(qty)
			weightedStop = weightedStop.Add(stopPx.Mul(qty))
		}
		if !haveStop || totalQty.IsZero() {
			continue // not counted as protected
		}

		avgStop := weightedStop.DivRound(totalQty, 2)
		if ticker == "" {
			ticker = pos.Ticker
		}
		protected[key] = true

		row := buildRow(ctx, pos, ticker, avgStop, totalQty, true, converter, baseCurrency)
		rows = append(rows, row)
	}

	// Step 3: unprotected positions.
	m := unprotectedLossPercentage.Div(decimal.NewFromInt(100)).Round(4)
	for _, key := range order {
		if protected[key] {
			continue
		}
		pos, ok := index[key]
		if !ok || pos.Quantity.IsZero() {
			continue
		}

		assumedStop := assumedStopPrice(pos, m)
		row := buildRow(ctx, pos, pos.Ticker, assumedStop, pos.Quantity.Abs(), false, converter, baseCurrency)
		rows = append(rows, row)
	}

	return finalize(rows, baseCurrency, unprotectedLossPercentage)
}

// assumedStopPrice computes the synthetic stop used when a position has
// no protective order: avgPrice * (1 - m) for longs, avgPrice * (1 + m)
// for shorts.
func assumedStopPrice(pos broker.Position, m decimal.Decimal) decimal.Decimal {
	if pos.Quantity.IsPositive() {
		return pos.AvgPrice.Mul(decimal.NewFromInt(1).Sub(m))
	}
	return pos.AvgPrice.Mul(decimal.NewFromInt(1).Add(m))
}

func buildRow(
	ctx context.Context,
	pos broker.Position,
	ticker string,
	stopPrice decimal.Decimal,
	orderQty decimal.Decimal,
	hasStopLoss bool,
	converter Converter,
	baseCurrency string,
) PositionRisk {
	var lockedPerShare, atRiskPerShare decimal.Decimal

	if pos.Quantity.IsPositive() {
		lockedPerShare = stopPrice.Sub(pos.AvgPrice)
		if pos.MarketPrice.GreaterThan(pos.AvgPrice) {
			atRiskPerShare = pos.MarketPrice.Sub(stopPrice)
		} else {
			atRiskPerShare = pos.MarketPrice.Sub(stopPrice).Neg()
		}
	} else {
		lockedPerShare = pos.AvgPrice.Sub(stopPrice)
		if pos.MarketPrice.LessThan(pos.AvgPrice) {
			atRiskPerShare = stopPrice.Sub(pos.MarketPrice)
		} else {
			atRiskPerShare = stopPrice.Sub(pos.MarketPrice).Neg()
		}
	}

	locked := lockedPerShare.Mul(orderQty).Round(2)
	atRisk := atRiskPerShare.Mul(orderQty).Round(2)
	value := pos.Quantity.Abs().Mul(pos.MarketPrice).Round(2)

	lockedBase := converter.ConvertToBase(ctx, locked, pos.Currency)
	atRiskBase := converter.ConvertToBase(ctx, atRisk, pos.Currency)
	valueBase := converter.ConvertToBase(ctx, value, pos.Currency)

	return PositionRisk{
		AccountID:         pos.AccountID,
		Ticker:            ticker,
		Conid:             pos.Conid,
		PositionSize:      pos.Quantity,
		AvgPrice:          pos.AvgPrice,
		CurrentPrice:      pos.MarketPrice,
		StopPrice:         stopPrice.Round(2),
		OrderQuantity:     orderQty,
		LockedProfit:      locked,
		AtRiskProfit:      atRisk,
		PositionValue:     value,
		LockedProfitBase:  lockedBase,
		AtRiskProfitBase:  atRiskBase,
		PositionValueBase: valueBase,
		Currency:          pos.Currency,
		BaseCurrency:      baseCurrency,
		HasStopLoss:       hasStopLoss,
	}
}

func finalize(rows []PositionRisk, baseCurrency string, unprotectedPct decimal.Decimal) RiskReport {
	totalValue := decimal.Zero
	withStop := decimal.Zero
	withoutStop := decimal.Zero
	totalAtRisk := decimal.Zero

	for _, r := range rows {
		totalValue = totalValue.Add(r.PositionValueBase)
		totalAtRisk = totalAtRisk.Add(r.AtRiskProfitBase)
		if r.HasStopLoss {
			withStop = withStop.Add(r.LockedProfitBase)
		} else {
			withoutStop = withoutStop.Add(r.LockedProfitBase)
		}
	}

	for i := range rows {
		if totalValue.IsZero() {
			rows[i].PortfolioPercentage = decimal.Zero
			continue
		}
		rows[i].PortfolioPercentage = rows[i].PositionValueBase.
			DivRound(totalValue, 4).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LockedProfit.GreaterThan(rows[j].LockedProfit)
	})

	if len(rows) == 0 {
		log.Debug().Msg("risk: empty portfolio, returning zeroed report")
	}

	return RiskReport{
		TotalPositionValue:             totalValue,
		WorstCaseProfit:                withStop.Add(withoutStop),
		WorstCaseProfitWithStopLoss:    withStop,
		WorstCaseProfitWithoutStopLoss: withoutStop,
		TotalAtRiskProfit:              totalAtRisk,
		Currency:                       baseCurrency,
		UnprotectedLossPercentageUsed:  unprotectedPct,
		PositionRisks:                  rows,
	}
}
