package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reconnector is implemented by gateways that can re-establish their
// transport after a drop (currently only the socket gateway; the REST
// gateway holds no persistent connection and needs no reconnect).
type Reconnector interface {
	Connect(ctx context.Context) error
}

// RunKeepAlive pings the gateway on an interval and, if it implements
// Reconnector, attempts to reconnect whenever KeepAlive reports the
// connection down. Runs until ctx is cancelled.
func (a *App) RunKeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reconnector, canReconnect := a.Gateway.(Reconnector)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Gateway.KeepAlive(ctx) {
				continue
			}
			log.Warn().Msg("app: keepalive failed")
			if !canReconnect {
				continue
			}
			if err := reconnector.Connect(ctx); err != nil {
				log.Error().Err(err).Msg("app: reconnect failed")
			} else {
				log.Info().Msg("app: reconnected")
			}
		}
	}
}
