package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uruklabs/uruk-lottery/go/clients/status_client"
	"github.com/uruklabs/uruk-lottery/go/internal/chain"
	"github.com/uruklabs/uruk-lottery/go/internal/events"
	"github.com/uruklabs/uruk-lottery/go/internal/gateway"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
	"github.com/uruklabs/uruk-lottery/go/internal/purchase"
	"github.com/uruklabs/uruk-lottery/go/internal/roundclock"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	privateKey := os.Getenv("WALLET_PRIVATE_KEY")
	if privateKey == "" {
		log.Fatal().Msg("WALLET_PRIVATE_KEY environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
	chainGateway, err := chain.NewEthGateway(dialCtx, chain.EthGatewayConfig{
		RPCURL:         config.Chain.RPCURL,
		ChainID:        config.Chain.ChainID,
		TokenAddress:   config.Chain.TokenAddress,
		LotteryAddress: config.Chain.LotteryAddress,
		PrivateKeyHex:  privateKey,
	})
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to chain")
	}
	defer chainGateway.Close()

	// Token decimals are read once at startup; a purchase without them
	// would compute a wrong approval amount, so they gate the pipeline.
	decimals, decimalsKnown := readDecimals(ctx, chainGateway)

	clock := clockwork.NewRealClock()
	connectionManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	stateManager := gateway.NewStateManager()
	coordinator := roundclock.NewCoordinator(clock, 2*time.Second)

	refresher := gateway.NewRefresher(
		chainGateway,
		coordinator,
		stateManager,
		chainGateway.From(),
		chainGateway.LotteryAddress(),
		nil, // bound to the synchronizer below
	)

	var service *gateway.Service
	orchestrator := purchase.NewOrchestrator(chainGateway, purchase.Config{
		Owner:          chainGateway.From(),
		Spender:        chainGateway.LotteryAddress(),
		TicketPrice:    big.NewInt(config.Purchase.TicketPrice),
		Decimals:       decimals,
		DecimalsKnown:  decimalsKnown,
		ConfirmTimeout: time.Duration(config.Purchase.ConfirmTimeoutSec) * time.Second,
	}, refresher.Refresh, purchase.Hooks{
		OnStep:      func(step models.TransactionStep) { service.PublishStep(step) },
		OnCompleted: func(intent models.PurchaseIntent, receipt *chain.Receipt) { service.PublishCompleted(intent, receipt) },
		OnError:     func(stepErr *purchase.StepError) { service.PublishFailed(stepErr) },
	})

	var bus gateway.EventPublisher
	if config.NATS.URL != "" {
		natsCfg := events.DefaultJetStreamConfig()
		natsCfg.URL = config.NATS.URL
		publisher, err := events.NewJetStreamPublisher(natsCfg)
		if err != nil {
			log.Error().Err(err).Msg("NATS unavailable, continuing without event bus")
		} else {
			defer publisher.Close()
			bus = publisher
		}
	}

	service = gateway.NewService(connectionManager, stateManager, orchestrator, refresher, bus)

	statusClient := status_client.NewStatusClient(config.Backend.BaseURL, 0)
	synchronizer := roundclock.NewSynchronizer(
		chainGateway,
		statusClient,
		clock,
		coordinator,
		refresher.Reload,
		roundclock.DefaultConfig(),
		roundclock.Hooks{
			OnTick:         service.PublishTick,
			OnRoundStarted: service.PublishRoundStarted,
		},
	)

	refresher.SetRoundProvider(synchronizer.RoundID)

	synchronizer.Prime(ctx)
	if roundID := synchronizer.RoundID(); roundID != nil {
		stateManager.SetRound(roundID, time.Time{})
	}

	// First holdings read so connecting clients start with data.
	if err := refresher.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial holdings refresh failed")
	}

	go connectionManager.Start(ctx)
	go func() {
		if err := synchronizer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("round clock synchronizer failed")
		}
	}()

	server := setupServer(service.Handler())
	go func() {
		log.Info().Str("addr", server.Addr).Msg("gateway server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func readDecimals(ctx context.Context, chainGateway *chain.EthGateway) (uint8, bool) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	decimals, err := chainGateway.ReadDecimals(readCtx)
	if err != nil {
		log.Warn().Err(err).Msg("token decimals unavailable, purchases disabled until restart")
		return 0, false
	}
	log.Info().Uint8("decimals", decimals).Msg("token decimals loaded")
	return decimals, true
}
