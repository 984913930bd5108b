// Package risk reconciles positions against stop orders and produces a
// worst-case profit/loss report. It is a pure function of its inputs: no
// I/O, no broker calls, no global state.
package risk

import "github.com/shopspring/decimal"

// PositionRisk is one output row: a position paired with its actual or
// assumed stop price and the profit it locks in / still has at risk.
type PositionRisk struct {
	AccountID   string
	Ticker      string
	Conid       int64

	PositionSize decimal.Decimal // signed
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	StopPrice    decimal.Decimal
	OrderQuantity decimal.Decimal // sum of stop qty, or |position qty| if assumed

	LockedProfit  decimal.Decimal // native currency
	AtRiskProfit  decimal.Decimal
	PositionValue decimal.Decimal

	LockedProfitBase  decimal.Decimal // base currency
	AtRiskProfitBase  decimal.Decimal
	PositionValueBase decimal.Decimal

	Currency     string
	BaseCurrency string

	HasStopLoss         bool
	PortfolioPercentage decimal.Decimal // 0-100
}

// RiskReport is the aggregated result of one risk calculation.
type RiskReport struct {
	TotalPositionValue decimal.Decimal

	WorstCaseProfit                 decimal.Decimal
	WorstCaseProfitWithStopLoss     decimal.Decimal
	WorstCaseProfitWithoutStopLoss  decimal.Decimal
	TotalAtRiskProfit               decimal.Decimal

	Currency                     string // base currency
	UnprotectedLossPercentageUsed decimal.Decimal

	PositionRisks []PositionRisk
}
