package broker

import "context"

// Gateway abstracts a broker backend (REST or socket) behind one
// synchronous contract. The risk engine never branches on which
// implementation it's talking to.
type Gateway interface {
	GetConnectionStatus(ctx context.Context) ConnectionStatus
	KeepAlive(ctx context.Context) bool
	GetConfiguredAccounts() []Account
	SwitchAccount(ctx context.Context, accountID string) error

	GetPositions(ctx context.Context, accountID string) ([]Position, error)
	GetAllPositions(ctx context.Context) ([]Position, error)

	GetOrders(ctx context.Context, accountID string) ([]Order, error)
	GetAllOrders(ctx context.Context) ([]Order, error)
	GetStopOrders(ctx context.Context, accountID string) ([]Order, error)
	GetAllStopOrders(ctx context.Context) ([]Order, error)
	GetStopOrdersForConid(ctx context.Context, accountID string, conid int64) ([]Order, error)

	PlaceStopLossOrder(ctx context.Context, req StopLossOrderRequest) (OrderResult, error)
}
