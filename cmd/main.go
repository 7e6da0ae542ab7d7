package main

import (
	"os"
	"os/signal"
	"syscall"

	"trendboard/internal/bootstrap"
)

func main() {
	c := bootstrap.NewContainer()
	c.MustInit()

	if err := c.Start(); err != nil {
		c.Log.Errorw("failed to start", "error", err)
		c.Shutdown()
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutdown signal received", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Context cancelled, shutting down")
	}

	c.Shutdown()
}
