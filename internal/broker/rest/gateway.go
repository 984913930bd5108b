// Package rest implements broker.Gateway over a session-cookie REST API,
// following the request-shaping and signing idioms of the Binance spot
// client (pkg/exchanges/binance/spot in the reference codebase) adapted
// from HMAC signing to cookie-based session auth.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-core/internal/broker"
)

var _ broker.Gateway = (*Gateway)(nil)

// Config configures the REST gateway.
type Config struct {
	BaseURL       string
	SessionCookie string // optional; injected by the caller's session
	Accounts      []string
	Timeout       time.Duration

	// SwitchSleep and RefreshSleep are the two delays the account-switch
	// and order-refresh handshake needs so the broker session has time
	// to settle before the next read. Configurable, default to the
	// observed-safe values.
	SwitchSleep  time.Duration
	RefreshSleep time.Duration

	// RateLimitHeader is the response header the broker reports its
	// consumed request weight on. Configurable because different broker
	// deployments name it differently; defaults to a generic name.
	RateLimitHeader string
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.SwitchSleep == 0 {
		c.SwitchSleep = 200 * time.Millisecond
	}
	if c.RefreshSleep == 0 {
		c.RefreshSleep = 300 * time.Millisecond
	}
	if c.RateLimitHeader == "" {
		c.RateLimitHeader = "X-RateLimit-Used"
	}
	return c
}

// Gateway implements broker.Gateway over the broker's session-cookie
// REST API.
type Gateway struct {
	cfg     Config
	client  *resty.Client
	limiter *rateLimiter

	currentAccount string

	switchedMu   sync.RWMutex
	lastSwitched map[string]time.Time
}

// New creates a REST gateway. The session cookie (if any) is attached to
// every request; accounts requiring cookie auth must set one before
// calling account-scoped operations.
func New(cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "*/*")
	if cfg.SessionCookie != "" {
		client.SetCookie(&http.Cookie{Name: "api-session", Value: cfg.SessionCookie})
	}
	return &Gateway{
		cfg:          cfg,
		client:       client,
		limiter:      newRateLimiter(1200, time.Minute),
		lastSwitched: make(map[string]time.Time),
	}
}

// GetConfiguredAccounts reports every account this gateway was
// configured with, plus the last time each was switched to (zero if
// never). It is diagnostics only; the risk engine never reads it.
func (g *Gateway) GetConfiguredAccounts() []broker.Account {
	g.switchedMu.RLock()
	defer g.switchedMu.RUnlock()
	out := make([]broker.Account, len(g.cfg.Accounts))
	for i, id := range g.cfg.Accounts {
		out[i] = broker.Account{AccountID: id, LastSwitchedAt: g.lastSwitched[id]}
	}
	return out
}

// GetConnectionStatus calls the broker's auth-status endpoint.
func (g *Gateway) GetConnectionStatus(ctx context.Context) broker.ConnectionStatus {
	var body struct {
		Authenticated bool   `json:"authenticated"`
		Connected     bool   `json:"connected"`
		Competing     bool   `json:"competing"`
		Message       string `json:"message"`
	}
	resp, err := g.client.R().SetContext(ctx).SetResult(&body).Get("/v1/api/iserver/auth/status")
	if err != nil {
		return broker.ConnectionStatus{Reachable: false, Message: err.Error()}
	}
	if resp.StatusCode() == 302 {
		return broker.ConnectionStatus{Reachable: false, Message: "redirected to login"}
	}
	if resp.IsError() {
		return broker.ConnectionStatus{Reachable: false, Message: fmt.Sprintf("status %d", resp.StatusCode())}
	}
	return broker.ConnectionStatus{
		Reachable:     true,
		Authenticated: body.Authenticated,
		Connected:     body.Connected,
		Competing:     body.Competing,
		Message:       body.Message,
	}
}

// KeepAlive issues a tickle request.
func (g *Gateway) KeepAlive(ctx context.Context) bool {
	resp, err := g.client.R().SetContext(ctx).Post("/v1/api/tickle")
	if err != nil {
		log.Warn().Err(err).Msg("rest: keepalive failed")
		return false
	}
	return !resp.IsError()
}

// SwitchAccount switches the broker's "current" account. Idempotent:
// switching to the already-current account is a no-op.
func (g *Gateway) SwitchAccount(ctx context.Context, accountID string) error {
	if g.currentAccount == accountID {
		return nil
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"acctId": accountID}).
		Post("/v1/api/iserver/account")
	if err != nil {
		return broker.NewError(broker.KindTransport, err)
	}
	if resp.IsError() {
		return broker.NewError(broker.KindProtocol, fmt.Errorf("switch account: status %d", resp.StatusCode()))
	}
	g.currentAccount = accountID

	g.switchedMu.Lock()
	g.lastSwitched[accountID] = time.Now()
	g.switchedMu.Unlock()
	return nil
}

type positionDTO struct {
	Conid       int64  `json:"conid"`
	Ticker      string `json:"ticker"`
	Position    string `json:"position"`
	AvgPrice    string `json:"avgPrice"`
	MarketPrice string `json:"mktPrice"`
	Currency    string `json:"currency"`
}

// GetPositions fetches page 0 of the account's portfolio positions,
// excluding zero-quantity rows.
func (g *Gateway) GetPositions(ctx context.Context, accountID string) ([]broker.Position, error) {
	if err := g.SwitchAccount(ctx, accountID); err != nil {
		return nil, err
	}

	var dtos []positionDTO
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get(fmt.Sprintf("/v1/api/portfolio/%s/positions/0", accountID))
	if err != nil {
		return nil, broker.NewError(broker.KindTransport, err)
	}
	g.limiter.updateFromHeader(resp.Header().Get(g.cfg.RateLimitHeader))
	if resp.IsError() {
		return nil, broker.NewError(broker.KindProtocol, fmt.Errorf("positions: status %d", resp.StatusCode()))
	}

	out := make([]broker.Position, 0, len(dtos))
	for _, d := range dtos {
		qty, err := decimal.NewFromString(d.Position)
		if err != nil {
			continue
		}
		if qty.IsZero() {
			continue
		}
		avg, _ := decimal.NewFromString(d.AvgPrice)
		mkt, _ := decimal.NewFromString(d.MarketPrice)
		out = append(out, broker.Position{
			AccountID:   accountID,
			Conid:       d.Conid,
			Ticker:      d.Ticker,
			Quantity:    qty,
			AvgPrice:    avg,
			MarketPrice: mkt,
			Currency:    d.Currency,
		})
	}
	return out, nil
}

func (g *Gateway) GetAllPositions(ctx context.Context) ([]broker.Position, error) {
	return broker.FetchAllPositions(ctx, g.cfg.Accounts, g.GetPositions)
}

type orderDTO struct {
	OrderID           string  `json:"orderId"`
	Conid             int64   `json:"conid"`
	Ticker            string  `json:"ticker"`
	OrderType         string  `json:"orderType"`
	Side              string  `json:"side"`
	Price             *string `json:"price"`
	StopPrice         *string `json:"stopPrice"`
	Quantity          string  `json:"totalSize"`
	RemainingQuantity *string `json:"remainingQuantity"`
	Status            string  `json:"status"`
	Description       string  `json:"description"`
}

// GetOrders follows a switch, wait, force-refresh, wait, read sequence.
// The two sleeps are not incidental: the broker's server-side refresh
// is asynchronous and unobservable, so there is no event to wait on.
func (g *Gateway) GetOrders(ctx context.Context, accountID string) ([]broker.Order, error) {
	if err := g.SwitchAccount(ctx, accountID); err != nil {
		return nil, err
	}
	sleep(ctx, g.cfg.SwitchSleep)

	if _, err := g.client.R().SetContext(ctx).SetQueryParam("force", "true").Get("/v1/api/iserver/account/orders"); err != nil {
		return nil, broker.NewError(broker.KindTransport, err)
	}
	sleep(ctx, g.cfg.RefreshSleep)

	var body struct {
		Orders []orderDTO `json:"orders"`
	}
	resp, err := g.client.R().SetContext(ctx).SetResult(&body).Get("/v1/api/iserver/account/orders")
	if err != nil {
		return nil, broker.NewError(broker.KindTransport, err)
	}
	if resp.IsError() {
		return nil, broker.NewError(broker.KindProtocol, fmt.Errorf("orders: status %d", resp.StatusCode()))
	}

	out := make([]broker.Order, 0, len(body.Orders))
	for _, d := range body.Orders {
		out = append(out, toOrder(d, accountID))
	}
	return out, nil
}

func toOrder(d orderDTO, accountID string) broker.Order {
	qty, _ := decimal.NewFromString(d.Quantity)
	var price, stopPrice, remaining *decimal.Decimal
	if d.Price != nil {
		if v, err := decimal.NewFromString(*d.Price); err == nil {
			price = &v
		}
	}
	if d.StopPrice != nil {
		if v, err := decimal.NewFromString(*d.StopPrice); err == nil {
			stopPrice = &v
		}
	}
	if d.RemainingQuantity != nil {
		if v, err := decimal.NewFromString(*d.RemainingQuantity); err == nil {
			remaining = &v
		}
	}
	return broker.Order{
		OrderID:           d.OrderID,
		AccountID:         accountID,
		Conid:             d.Conid,
		Ticker:            d.Ticker,
		OrderType:         d.OrderType,
		Side:              d.Side,
		Price:             price,
		StopPrice:         stopPrice,
		Quantity:          qty,
		RemainingQuantity: remaining,
		Status:            d.Status,
		Description:       d.Description,
	}
}

func (g *Gateway) GetAllOrders(ctx context.Context) ([]broker.Order, error) {
	return broker.FetchAllOrders(ctx, g.cfg.Accounts, g.GetOrders)
}

func (g *Gateway) GetStopOrders(ctx context.Context, accountID string) ([]broker.Order, error) {
	all, err := g.GetOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return broker.FilterActiveStops(all), nil
}

func (g *Gateway) GetAllStopOrders(ctx context.Context) ([]broker.Order, error) {
	return broker.FetchAllStopOrders(ctx, g.cfg.Accounts, g.GetStopOrders)
}

func (g *Gateway) GetStopOrdersForConid(ctx context.Context, accountID string, conid int64) ([]broker.Order, error) {
	stops, err := g.GetStopOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0)
	for _, o := range stops {
		if o.Conid == conid {
			out = append(out, o)
		}
	}
	return out, nil
}

type placeOrderResponse struct {
	ID      string   `json:"id"`
	Message []string `json:"message"`
	OrderID string   `json:"order_id"`
}

// PlaceStopLossOrder is a two-phase placement: submit, and if the broker
// replies with a reply id plus a confirmation message, immediately
// confirm it.
func (g *Gateway) PlaceStopLossOrder(ctx context.Context, req broker.StopLossOrderRequest) (broker.OrderResult, error) {
	if err := g.SwitchAccount(ctx, req.AccountID); err != nil {
		return broker.OrderResult{}, err
	}

	// cOID lets the broker deduplicate a placement retried after a dropped
	// response, independent of the reply id it hands back.
	body := map[string]any{
		"conid":     req.Conid,
		"orderType": "STP",
		"side":      req.Side(),
		"quantity":  req.Quantity.String(),
		"stopPrice": req.StopPrice.String(),
		"tif":       "GTC",
		"cOID":      uuid.NewString(),
	}

	var resp placeOrderResponse
	httpResp, err := g.client.R().
		SetContext(ctx).
		SetBody([]map[string]any{body}).
		SetResult(&resp).
		Post(fmt.Sprintf("/v1/api/iserver/account/%s/orders", req.AccountID))
	if err != nil {
		return broker.OrderResult{}, broker.NewError(broker.KindTransport, err)
	}
	if httpResp.IsError() {
		return broker.OrderResult{}, broker.NewError(broker.KindTransport, fmt.Errorf("place order: status %d", httpResp.StatusCode()))
	}

	if resp.ID != "" && len(resp.Message) > 0 {
		var confirmResp placeOrderResponse
		confirmHTTP, err := g.client.R().
			SetContext(ctx).
			SetBody(map[string]bool{"confirmed": true}).
			SetResult(&confirmResp).
			Post(fmt.Sprintf("/v1/api/iserver/reply/%s", resp.ID))
		if err != nil {
			return broker.OrderResult{}, broker.NewError(broker.KindTransport, err)
		}
		if confirmHTTP.IsError() {
			return broker.OrderResult{Success: false, OrderID: resp.ID, Message: "confirmation rejected"}, nil
		}
		return broker.OrderResult{Success: true, OrderID: resp.ID, Message: joinMessages(confirmResp.Message)}, nil
	}

	return broker.OrderResult{Success: true, OrderID: resp.ID, Message: joinMessages(resp.Message)}, nil
}

func joinMessages(msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
