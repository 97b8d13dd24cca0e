package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lk2023060901/danmu-relay-go/application"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.New().Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		stop()
		os.Exit(1)
	}
}
