// Command unitctl keeps a unit runtime's routes and TLS certificates in
// line with the facts recorded in its store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "unitctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
