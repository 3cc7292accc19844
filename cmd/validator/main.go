package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gather-network/gatherx/app/validator"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := validator.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	// Setup server
	app.SetupServer()

	// Run the evaluation loop and ops server until shutdown
	app.Start(ctx)
}
