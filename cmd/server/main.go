package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ironkeep/server/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := app.Run(ctx)
	switch {
	case err == nil:
		return
	case errors.As(err, new(*app.StartupError)):
		log.Printf("%v", err)
		os.Exit(2)
	case errors.As(err, new(*app.FatalError)):
		log.Printf("%v", err)
		os.Exit(3)
	default:
		log.Printf("%v", err)
		os.Exit(1)
	}
}
