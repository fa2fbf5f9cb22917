package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"contract-deployer/internal/cli"
)

var version = "dev"

// main 是 deployctl 命令行工具的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, version); err != nil {
		stop()
		os.Exit(1)
	}
}
