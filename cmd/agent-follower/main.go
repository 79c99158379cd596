package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agent-follower/internal/cli"
	"agent-follower/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Console only until the config names the log file.
	bootstrap := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true})

	root := cli.NewRootCmd(bootstrap)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
