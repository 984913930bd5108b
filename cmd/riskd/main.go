package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-core/internal/app"
	"trading-core/internal/broker"
	"trading-core/internal/broker/rest"
	"trading-core/internal/broker/socket"
	"trading-core/internal/fx"
	"trading-core/pkg/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	log.Info().Strs("accounts", cfg.Accounts).Str("backend", string(cfg.Backend)).Msg("starting riskd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway, err := buildGateway(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway init failed")
	}

	rates := fx.New(cfg.BaseCurrency, &unsupportedProvider{})
	unprotectedPct := decimal.NewFromFloat(cfg.UnprotectedLossPercentage)
	application := app.New(gateway, rates, cfg.BaseCurrency, unprotectedPct)

	go application.RunKeepAlive(ctx, time.Duration(cfg.KeepAliveInterval)*time.Second)

	report, err := application.CalculateWorstCaseScenarioForAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("initial risk calculation failed")
	} else {
		log.Info().
			Str("worstCaseProfit", report.WorstCaseProfit.String()).
			Int("positions", len(report.PositionRisks)).
			Msg("initial risk report computed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")
	cancel()
}

// buildGateway selects and connects the configured broker.Gateway
// implementation, mirroring a factory selecting by exchange type.
func buildGateway(ctx context.Context, cfg *config.Config) (broker.Gateway, error) {
	switch cfg.Backend {
	case config.BackendSocket:
		gw := socket.New(socket.Config{
			Host:     cfg.SocketHost,
			Port:     cfg.SocketPort,
			ClientID: cfg.SocketClientID,
			Accounts: cfg.Accounts,
		})
		if err := gw.Connect(ctx); err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return rest.New(rest.Config{
			BaseURL:       cfg.RestBaseURL,
			SessionCookie: cfg.RestSessionCookie,
			Accounts:      cfg.Accounts,
		}), nil
	}
}

// unsupportedProvider is the default fx.Provider until a real FX feed is
// wired in; it reports no rates, so the cache falls back to 1:1 for
// every foreign currency.
type unsupportedProvider struct{}

func (unsupportedProvider) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}
