package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyclewatch/cyclewatch/internal/discover"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one discovery pass over every configured cycle, then exit",
	Long: "Lists the recent builds of every configured cycle, indexes the ones not\n" +
		"fully indexed yet and exits. Useful from cron or for a one-shot catch-up\n" +
		"without running the server.",
	RunE: runCrawl,
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	d := discover.New(a.cfg.Scheduler, a.db, a.targets, a.logger.With("component", "discover"))
	return d.DiscoverOnce(ctx)
}
