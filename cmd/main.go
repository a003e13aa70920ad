package main

import (
	"os"
	"os/signal"
	"syscall"

	"costwatch/internal/bootstrap"
	"costwatch/pkg/logger"
)

func main() {
	container := bootstrap.NewContainer()

	// Config, logger, error tracker, stores, engine, workers, HTTP
	container.MustInit()
	defer logger.Sync()

	if err := container.Start(); err != nil {
		container.Log.Errorw("Failed to start", "error", err)
		container.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(container)
}

// waitForShutdown blocks until a signal arrives or a component cancels the
// application context, then runs the coordinated shutdown
func waitForShutdown(container *bootstrap.Container) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		container.Log.Infow("Shutting down...", "signal", sig.String())
	case <-container.Context.Done():
		container.Log.Warn("Application context cancelled, shutting down...")
	}

	container.Shutdown()
}
