package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowgrid-go/internal/services/execution/server"
	"github.com/flowgrid-go/pkg/config"
	"github.com/flowgrid-go/pkg/logger"
)

func main() {
	cfg, err := config.Load("engine")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger)

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down engine")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	log.Info("engine exited")
}
