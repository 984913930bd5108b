// Package socket implements broker.Gateway over a persistent
// request/response websocket connection, following the reader-goroutine
// and typed-event-dispatch pattern of the Binance user-data-stream
// clients (internal/order/user_stream_futures.go, pkg/exchanges/binance/spot/user_data_stream.go)
// adapted from a fire-and-forget event feed into a correlated
// request/reply protocol with futures keyed by request id.
package socket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"trading-core/internal/broker"
)

// connState is the connection's lifecycle state.
type connState int32

const (
	stateDisconnected connState = iota
	stateHandshaking
	stateReady
)

// Config configures the socket gateway.
type Config struct {
	Host     string
	Port     int
	ClientID int64
	Accounts []string

	PositionsTimeout time.Duration
	OrdersTimeout    time.Duration
	MarketDataTimeout time.Duration
	PlaceOrderTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 4001
	}
	if c.ClientID == 0 {
		c.ClientID = 1
	}
	if c.PositionsTimeout == 0 {
		c.PositionsTimeout = 30 * time.Second
	}
	if c.OrdersTimeout == 0 {
		c.OrdersTimeout = 10 * time.Second
	}
	if c.MarketDataTimeout == 0 {
		c.MarketDataTimeout = 5 * time.Second
	}
	if c.PlaceOrderTimeout == 0 {
		c.PlaceOrderTimeout = 30 * time.Second
	}
	return c
}

var _ broker.Gateway = (*Gateway)(nil)

// Gateway implements broker.Gateway over the TWS-style socket API.
type Gateway struct {
	cfg Config

	mu    sync.Mutex
	conn  *websocket.Conn
	state atomic.Int32

	nextReqID atomic.Int64

	positionFuture     *positionFuture
	orderFuture        *orderFuture
	mktFutures         map[int64]*mktDataFuture
	mktMu              sync.Mutex
	orderStatusFutures map[int64]*orderStatusFuture
	orderMu            sync.Mutex

	lastStatus broker.ConnectionStatus
	statusMu   sync.RWMutex
}

// New creates a socket gateway. Connect must be called before use.
func New(cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		cfg:                cfg,
		mktFutures:         make(map[int64]*mktDataFuture),
		orderStatusFutures: make(map[int64]*orderStatusFuture),
	}
}

// Connect dials the socket API and performs the handshake, starting the
// background reader goroutine. The next valid order id the broker
// reports seeds the outgoing request id counter.
func (g *Gateway) Connect(ctx context.Context) error {
	g.state.Store(int32(stateHandshaking))

	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port), Path: "/v1/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		g.state.Store(int32(stateDisconnected))
		return broker.NewError(broker.KindNotConnected, err)
	}

	handshake := map[string]any{
		"op":       "connect",
		"clientId": g.cfg.ClientID,
	}
	if err := conn.WriteJSON(handshake); err != nil {
		conn.Close()
		g.state.Store(int32(stateDisconnected))
		return broker.NewError(broker.KindTransport, err)
	}

	var ack struct {
		NextValidID int64 `json:"nextValidId"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		g.state.Store(int32(stateDisconnected))
		return broker.NewError(broker.KindProtocol, err)
	}
	g.nextReqID.Store(ack.NextValidID)

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	g.state.Store(int32(stateReady))

	go g.readLoop(ctx)
	return nil
}

func (g *Gateway) readLoop(ctx context.Context) {
	for {
		g.mu.Lock()
		conn := g.conn
		g.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("socket: read error, marking connection closed")
			g.connectionClosed()
			return
		}
		g.dispatch(msg)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// connectionClosed fails all outstanding futures with NotConnected and
// marks the gateway disconnected.
func (g *Gateway) connectionClosed() {
	g.state.Store(int32(stateDisconnected))
	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()

	if pf := g.positionFuture; pf != nil {
		pf.fail(broker.NewError(broker.KindNotConnected, fmt.Errorf("connection closed")))
	}
	if of := g.orderFuture; of != nil {
		of.fail(broker.NewError(broker.KindNotConnected, fmt.Errorf("connection closed")))
	}
	g.mktMu.Lock()
	for _, f := range g.mktFutures {
		f.fail(broker.NewError(broker.KindNotConnected, fmt.Errorf("connection closed")))
	}
	g.mktFutures = make(map[int64]*mktDataFuture)
	g.mktMu.Unlock()

	g.orderMu.Lock()
	for _, f := range g.orderStatusFutures {
		f.fail(broker.NewError(broker.KindNotConnected, fmt.Errorf("connection closed")))
	}
	g.orderStatusFutures = make(map[int64]*orderStatusFuture)
	g.orderMu.Unlock()
}

func (g *Gateway) nextRequestID() int64 {
	return g.nextReqID.Add(1)
}

func (g *Gateway) send(v any) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil || connState(g.state.Load()) != stateReady {
		return broker.NewError(broker.KindNotConnected, fmt.Errorf("not connected"))
	}
	return conn.WriteJSON(v)
}

func (g *Gateway) GetConnectionStatus(ctx context.Context) broker.ConnectionStatus {
	if connState(g.state.Load()) != stateReady {
		return broker.ConnectionStatus{Reachable: false, Message: "not connected"}
	}
	g.statusMu.RLock()
	defer g.statusMu.RUnlock()
	status := g.lastStatus
	status.Reachable = true
	status.Connected = true
	return status
}

func (g *Gateway) KeepAlive(ctx context.Context) bool {
	if connState(g.state.Load()) != stateReady {
		return false
	}
	return g.send(map[string]any{"op": "ping"}) == nil
}

// GetConfiguredAccounts reports every account this gateway was
// configured with. LastSwitchedAt is always zero here: the socket
// protocol has no server-side current account, so there is no switch
// to time.
func (g *Gateway) GetConfiguredAccounts() []broker.Account {
	out := make([]broker.Account, len(g.cfg.Accounts))
	for i, id := range g.cfg.Accounts {
		out[i] = broker.Account{AccountID: id}
	}
	return out
}

func (g *Gateway) SwitchAccount(ctx context.Context, accountID string) error {
	// The socket protocol has no current account: positions and orders
	// are requested for all accounts at once and filtered by account on
	// the client side, so there is nothing to switch server-side.
	return nil
}
