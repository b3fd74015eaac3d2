package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/chainbound/vixy/config"
	"github.com/chainbound/vixy/health"
	"github.com/chainbound/vixy/server"
	"github.com/chainbound/vixy/state"
)

func main() {
	shutdown, err := Init(afero.NewOsFs(), os.Args)
	defer shutdown()

	if err != nil {
		log.Error().Err(err).Msg("failed to start vixy")
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	recvSig := <-sig
	log.Warn().Msgf("caught signal: %v", recvSig)
}

// Init loads configuration, wires the health monitor and HTTP server,
// and starts both. It returns a shutdown closure so the entrypoint is
// unit-testable without forking a process, the same shape as erpc's
// cmd/erpc/main.go Init.
func Init(fs afero.Fs, args []string) (func(), error) {
	noop := func() {}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.Logger

	configPath := "./vixy.toml"
	if len(args) > 1 {
		configPath = args[1]
	}

	if _, err := fs.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return noop, fmt.Errorf("config file %q does not exist", configPath)
	}

	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return noop, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		logger.Warn().Msgf("invalid log level %q, defaulting to info: %s", cfg.LogLevel, err)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(level)
	}

	st := state.New(cfg.Topology(), state.Thresholds{
		MaxELLag:               cfg.Global.MaxELLagBlocks,
		MaxCLLag:                cfg.Global.MaxCLLagSlots,
		MaxConsecutiveFailures:  cfg.Global.HealthCheckMaxFailures,
		HealthCheckInterval:     cfg.Global.HealthCheckInterval(),
		HealthCheckTimeout:      cfg.Global.HealthCheckTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())

	monitor := health.NewMonitor(st, &logger)
	go monitor.Run(ctx)

	srv := server.New(st, cfg, &logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	shutdown := func() {
		logger.Info().Msg("shutting down vixy")
		cancel()
		if err := srv.Shutdown(10 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("error during http server shutdown")
		}
	}
	return shutdown, nil
}
