package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/crawler"
	"github.com/cyclewatch/cyclewatch/internal/db"
	"github.com/cyclewatch/cyclewatch/internal/discover"
	"github.com/cyclewatch/cyclewatch/internal/fetch"
	"github.com/cyclewatch/cyclewatch/internal/notify"
)

// app holds everything both commands need: the loaded configuration, the
// database and one discovery target per configured cycle.
type app struct {
	cfg     *config.Config
	db      *db.DB
	targets []discover.Target
	logger  *slog.Logger
}

func newApp(ctx context.Context) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Log{Logger: logger.With("component", "notify")}
	if cfg.Notifier.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notifier.WebhookURL)
	}

	var targets []discover.Target
	for i := range cfg.Projects {
		project := &cfg.Projects[i]
		fetcher, err := newFetcher(ctx, project)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("project %s: %w", project.Code, err)
		}
		c := crawler.New(database, project, fetcher, notifier, logger.With("component", "crawler"))
		for _, cycle := range project.Cycles {
			targets = append(targets, discover.Target{
				Cycle:   cycle,
				Fetcher: fetcher,
				Crawler: c,
			})
		}
	}

	return &app{cfg: cfg, db: database, targets: targets, logger: logger}, nil
}

func (a *app) close() {
	_ = a.db.Close()
}

func newFetcher(ctx context.Context, project *config.Project) (fetch.Fetcher, error) {
	switch {
	case project.Fetcher.HTTP != nil:
		return fetch.NewHTTP(*project.Fetcher.HTTP), nil
	case project.Fetcher.FileSystem != nil:
		return fetch.NewFileSystem(*project.Fetcher.FileSystem), nil
	case project.Fetcher.S3 != nil:
		return fetch.NewS3(ctx, *project.Fetcher.S3)
	}
	return nil, fmt.Errorf("no fetcher configured")
}
