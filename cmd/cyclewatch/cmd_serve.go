package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyclewatch/cyclewatch/internal/discover"
	"github.com/cyclewatch/cyclewatch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the periodic build discovery",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup
	if a.cfg.Scheduler.Enabled {
		d := discover.New(a.cfg.Scheduler, a.db, a.targets, a.logger.With("component", "discover"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("discovery stopped", "error", err)
			}
		}()
	} else {
		a.logger.Info("build discovery disabled")
	}

	srv := server.New(a.db, a.cfg.Server.Addr, a.logger)
	err = srv.Run(ctx)

	wg.Wait()
	a.logger.Info("all background tasks stopped")
	return err
}
