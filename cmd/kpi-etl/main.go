package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikeblum/scorpion-kpi/conf"
)

func main() {
	log := conf.NewLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(log).ExecuteContext(ctx); err != nil {
		log.WithError(err).Critical("KPI collection aborted, exiting...")
		stop()
		os.Exit(1)
	}
}
