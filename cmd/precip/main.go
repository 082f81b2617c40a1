// Command precip downloads NOAA Hourly Precipitation Data, flags deleted and
// missing records, and summarizes the usable precipitation per state.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
