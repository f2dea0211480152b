// Command obp-adapter serves OBP requests from the configured queue until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/obpflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := obpflow.Main(ctx)
	stop()
	os.Exit(code)
}
