package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"checkweaver/internal/cli"
)

// main turns SIGINT/SIGTERM into run cancellation: in-flight tasks finish,
// queued tasks are discarded and the process exits 130.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	res, err := cli.Run(ctx, os.Args[1:], cli.Streams{Out: os.Stdout, Err: os.Stderr})
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(res.ExitCode)
}
