package broker

import "context"

// FetchAllPositions unions GetPositions results across accounts, merging
// duplicate (conid, accountId) rows first-wins as getAllPositions's
// contract requires.
func FetchAllPositions(ctx context.Context, accounts []string, get func(context.Context, string) ([]Position, error)) ([]Position, error) {
	seen := make(map[PositionKey]bool)
	var out []Position
	for _, acct := range accounts {
		rows, err := get(ctx, acct)
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			key := p.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// FetchAllOrders concatenates GetOrders results across accounts without
// deduplication.
func FetchAllOrders(ctx context.Context, accounts []string, get func(context.Context, string) ([]Order, error)) ([]Order, error) {
	var out []Order
	for _, acct := range accounts {
		rows, err := get(ctx, acct)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// FetchAllStopOrders concatenates GetStopOrders across accounts and
// deduplicates by OrderID.
func FetchAllStopOrders(ctx context.Context, accounts []string, get func(context.Context, string) ([]Order, error)) ([]Order, error) {
	rows, err := FetchAllOrders(ctx, accounts, get)
	if err != nil {
		return nil, err
	}
	return DedupOrdersByID(rows), nil
}

// DedupOrdersByID keeps the first occurrence of each OrderID, preserving
// input order.
func DedupOrdersByID(orders []Order) []Order {
	seen := make(map[string]bool, len(orders))
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if seen[o.OrderID] {
			continue
		}
		seen[o.OrderID] = true
		out = append(out, o)
	}
	return out
}

// DedupPositionsByKey keeps the first occurrence of each (conid,
// accountId) pair, preserving input order — used by gateways whose
// wire protocol can report the same position twice in a snapshot.
func DedupPositionsByKey(positions []Position) []Position {
	seen := make(map[PositionKey]bool, len(positions))
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		key := p.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// FilterActiveStops keeps only active, stop-typed orders.
func FilterActiveStops(orders []Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.IsStop() && o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}
