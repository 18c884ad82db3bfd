// Command topicforge-server runs the topic ingestion pipeline: HTTP
// intake, the Worker Pool, and the durable SQLite-backed Store, until an
// interrupt or termination signal requests a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/topicforge/internal/app"
	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/server"
)

const (
	exitOK            = 0
	exitFatalInit     = 1
	exitNoCredentials = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("TOPICFORGE_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize app: %v\n", err)
		return exitFatalInit
	}
	defer a.Close()

	common.PrintBanner(a.Config, a.Logger)

	if a.LLMClient == nil {
		a.Logger.Error().Msg("no usable LLM credentials at startup")
		return exitNoCredentials
	}

	a.StartWorkerPool()

	srv := server.NewServer(a)
	samplerCtx, samplerCancel := context.WithCancel(context.Background())
	defer samplerCancel()
	srv.StartStatusSampler(samplerCtx, 10*time.Second)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		a.Logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		a.Logger.Error().Err(err).Msg("HTTP server failed")
		return exitFatalInit
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	common.PrintShutdownBanner(a.Logger)
	return exitOK
}
