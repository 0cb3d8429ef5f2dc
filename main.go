package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/arbvault/cmd"
	"github.com/michaelpento.lv/arbvault/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	utils.CleanupLogger()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
