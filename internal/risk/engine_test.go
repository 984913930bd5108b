package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
)

// fxStub converts USD to EUR at a fixed 0.9 rate and leaves everything
// else unchanged, matching the scenario fixtures.
type fxStub struct{}

func (fxStub) ConvertToBase(ctx context.Context, amount decimal.Decimal, fromCurrency string) decimal.Decimal {
	if fromCurrency == "USD" {
		return amount.Mul(decimal.NewFromFloat(0.9)).Round(2)
	}
	return amount
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculateScenarios(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name               string
		positions          []broker.Position
		stops              []broker.Order
		unprotectedPct     decimal.Decimal
		wantLockedProfit   decimal.Decimal
		wantAtRiskProfit   decimal.Decimal
		wantHasStopLoss    bool
	}{
		{
			name: "S1 protected long in profit",
			positions: []broker.Position{
				{AccountID: "A", Conid: 1, Quantity: d("100"), AvgPrice: d("100.00"), MarketPrice: d("150.00"), Currency: "USD"},
			},
			stops: []broker.Order{
				{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("120.00")), RemainingQuantity: ptr(d("100"))},
			},
			unprotectedPct:   decimal.NewFromInt(50),
			wantLockedProfit: d("2000.00"),
			wantAtRiskProfit: d("3000.00"),
			wantHasStopLoss:  true,
		},
		{
			name: "S2 protected long with stop below entry",
			positions: []broker.Position{
				{AccountID: "A", Conid: 1, Quantity: d("100"), AvgPrice: d("100"), MarketPrice: d("150"), Currency: "USD"},
			},
			stops: []broker.Order{
				{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("90")), RemainingQuantity: ptr(d("100"))},
			},
			unprotectedPct:   decimal.NewFromInt(50),
			wantLockedProfit: d("-1000.00"),
			wantAtRiskProfit: d("6000.00"),
			wantHasStopLoss:  true,
		},
		{
			name: "S3 underwater long with no stop",
			positions: []broker.Position{
				{AccountID: "A", Conid: 1, Quantity: d("100"), AvgPrice: d("100"), MarketPrice: d("90"), Currency: "USD"},
			},
			unprotectedPct:   decimal.NewFromInt(20),
			wantLockedProfit: d("-2000.00"),
			wantAtRiskProfit: d("-1000.00"),
			wantHasStopLoss:  false,
		},
		{
			name: "S5 short position protected",
			positions: []broker.Position{
				{AccountID: "A", Conid: 1, Quantity: d("-50"), AvgPrice: d("200"), MarketPrice: d("180"), Currency: "USD"},
			},
			stops: []broker.Order{
				{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("220")), RemainingQuantity: ptr(d("50"))},
			},
			unprotectedPct:   decimal.NewFromInt(50),
			wantLockedProfit: d("-1000.00"),
			wantAtRiskProfit: d("2000.00"),
			wantHasStopLoss:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Calculate(ctx, tt.positions, tt.stops, "EUR", fxStub{}, tt.unprotectedPct)

			if len(report.PositionRisks) != 1 {
				t.Fatalf("expected 1 position row, got %d", len(report.PositionRisks))
			}
			row := report.PositionRisks[0]

			if !row.LockedProfit.Equal(tt.wantLockedProfit) {
				t.Errorf("LockedProfit = %s, want %s", row.LockedProfit, tt.wantLockedProfit)
			}
			if !row.AtRiskProfit.Equal(tt.wantAtRiskProfit) {
				t.Errorf("AtRiskProfit = %s, want %s", row.AtRiskProfit, tt.wantAtRiskProfit)
			}
			if row.HasStopLoss != tt.wantHasStopLoss {
				t.Errorf("HasStopLoss = %v, want %v", row.HasStopLoss, tt.wantHasStopLoss)
			}
		})
	}
}

func TestCalculateWeightedAverageStop(t *testing.T) {
	ctx := context.Background()
	positions := []broker.Position{
		{AccountID: "A", Conid: 1, Quantity: d("200"), AvgPrice: d("100"), MarketPrice: d("150"), Currency: "USD"},
	}
	stops := []broker.Order{
		{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("110")), RemainingQuantity: ptr(d("50"))},
		{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("120")), RemainingQuantity: ptr(d("150"))},
	}

	report := Calculate(ctx, positions, stops, "EUR", fxStub{}, decimal.NewFromInt(50))
	if len(report.PositionRisks) != 1 {
		t.Fatalf("expected 1 position row, got %d", len(report.PositionRisks))
	}
	row := report.PositionRisks[0]

	wantStop := d("117.50")
	if !row.StopPrice.Equal(wantStop) {
		t.Errorf("StopPrice = %s, want %s", row.StopPrice, wantStop)
	}
	wantQty := d("200")
	if !row.OrderQuantity.Equal(wantQty) {
		t.Errorf("OrderQuantity = %s, want %s", row.OrderQuantity, wantQty)
	}
}

func TestCalculateEmptyPortfolio(t *testing.T) {
	ctx := context.Background()
	report := Calculate(ctx, nil, nil, "EUR", fxStub{}, decimal.NewFromInt(50))

	if len(report.PositionRisks) != 0 {
		t.Fatalf("expected empty position list, got %d rows", len(report.PositionRisks))
	}
	if !report.TotalPositionValue.IsZero() {
		t.Errorf("TotalPositionValue = %s, want 0", report.TotalPositionValue)
	}
	if !report.WorstCaseProfit.IsZero() {
		t.Errorf("WorstCaseProfit = %s, want 0", report.WorstCaseProfit)
	}
}

func TestCalculatePortfolioPercentageSumsToHundred(t *testing.T) {
	ctx := context.Background()
	positions := []broker.Position{
		{AccountID: "A", Conid: 1, Quantity: d("100"), AvgPrice: d("100"), MarketPrice: d("150"), Currency: "EUR"},
		{AccountID: "A", Conid: 2, Quantity: d("50"), AvgPrice: d("200"), MarketPrice: d("210"), Currency: "EUR"},
	}
	stops := []broker.Order{
		{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("120")), RemainingQuantity: ptr(d("100"))},
		{AccountID: "A", Conid: 2, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("190")), RemainingQuantity: ptr(d("50"))},
	}

	report := Calculate(ctx, positions, stops, "EUR", fxStub{}, decimal.NewFromInt(50))

	sum := decimal.Zero
	for _, row := range report.PositionRisks {
		sum = sum.Add(row.PortfolioPercentage)
	}
	low := d("99.99")
	high := d("100.01")
	if sum.LessThan(low) || sum.GreaterThan(high) {
		t.Errorf("portfolio percentage sum = %s, want within [99.99, 100.01]", sum)
	}
}

func TestCalculateRowsSortedByLockedProfitDescending(t *testing.T) {
	ctx := context.Background()
	positions := []broker.Position{
		{AccountID: "A", Conid: 1, Quantity: d("100"), AvgPrice: d("100"), MarketPrice: d("110"), Currency: "EUR"},
		{AccountID: "A", Conid: 2, Quantity: d("100"), AvgPrice: d("100"), MarketPrice: d("200"), Currency: "EUR"},
	}
	stops := []broker.Order{
		{AccountID: "A", Conid: 1, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("105")), RemainingQuantity: ptr(d("100"))},
		{AccountID: "A", Conid: 2, OrderType: "STP", Status: "Submitted", StopPrice: ptr(d("150")), RemainingQuantity: ptr(d("100"))},
	}

	report := Calculate(ctx, positions, stops, "EUR", fxStub{}, decimal.NewFromInt(50))
	if len(report.PositionRisks) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.PositionRisks))
	}
	if !report.PositionRisks[0].LockedProfit.GreaterThanOrEqual(report.PositionRisks[1].LockedProfit) {
		t.Errorf("rows not sorted descending by LockedProfit: %s before %s",
			report.PositionRisks[0].LockedProfit, report.PositionRisks[1].LockedProfit)
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
