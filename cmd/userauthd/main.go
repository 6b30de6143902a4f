// Command userauthd serves the userauth HTTP API, and optionally a gRPC
// health endpoint guarded by the session interceptors.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/panyam/userauth/config"
)

func main() {
	cfg := config.MustLoad()
	log.SetPrefix("[USERAUTH] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
