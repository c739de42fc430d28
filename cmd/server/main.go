package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ankith2004ahms/video-calling/internal/config"
	"github.com/ankith2004ahms/video-calling/internal/directory"
	"github.com/ankith2004ahms/video-calling/internal/logging"
	"github.com/ankith2004ahms/video-calling/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logging.NewServer()
	cfg := config.LoadServer()

	dir := directory.New()
	hub := relay.NewHub(dir, log)
	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           relay.Router(hub, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("signaling server listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	hub.Stop()
}
