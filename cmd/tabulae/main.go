package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tabulae/tabulae/internal/cli/tabulae"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := tabulae.Run(ctx, os.Args[1:], tabulae.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Lookup: os.LookupEnv,
	})
	stop()
	os.Exit(code)
}
