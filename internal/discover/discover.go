// Package discover periodically lists the recent builds of every configured
// cycle and hands the ones still worth indexing to the crawler.
package discover

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/crawler"
	"github.com/cyclewatch/cyclewatch/internal/db"
	"github.com/cyclewatch/cyclewatch/internal/fetch"
	"github.com/cyclewatch/cyclewatch/internal/model"
)

// Target is one cycle to watch, with the fetcher and crawler of its project.
type Target struct {
	Cycle   model.CycleDefinition
	Fetcher fetch.Fetcher
	Crawler *crawler.Crawler
}

// Discoverer drives the periodic discovery passes.
type Discoverer struct {
	cfg     config.Scheduler
	db      *db.DB
	targets []Target
	logger  *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

func New(cfg config.Scheduler, database *db.DB, targets []Target, logger *slog.Logger) *Discoverer {
	return &Discoverer{
		cfg:     cfg,
		db:      database,
		targets: targets,
		logger:  logger,
		now:     time.Now,
	}
}

// Run discovers builds every configured interval until ctx is canceled.
func (d *Discoverer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.cfg.Interval))
	defer ticker.Stop()

	d.logger.Info("build discovery started",
		"interval", d.cfg.Interval, "cycles", len(d.targets))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !d.cfg.Enabled {
				continue
			}
			if err := d.DiscoverOnce(ctx); err != nil {
				d.logger.Error("discovery pass failed", "error", err)
			}
		}
	}
}

type candidate struct {
	target Target
	build  fetch.Build
}

// DiscoverOnce runs a single discovery pass: list the recent builds of every
// cycle, truncate them per the retention settings, drop the ones already
// fully indexed and crawl the rest. Each build is crawled in its own
// transaction, so one failing build never impacts the others; a cycle whose
// listing fails is logged and skipped.
func (d *Discoverer) DiscoverOnce(ctx context.Context) error {
	var candidates []candidate
	for _, target := range d.targets {
		builds, err := target.Fetcher.ListRecentBuilds(ctx, target.Cycle.Branch, target.Cycle.Name)
		if err != nil {
			d.logger.Error("cannot list recent builds of cycle",
				"project", target.Cycle.ProjectCode,
				"branch", target.Cycle.Branch,
				"cycle", target.Cycle.Name,
				"error", err)
			continue
		}
		builds = truncateBuilds(builds, d.cfg.MinExecutionsToKeep, d.cfg.MaxExecutionDaysToKeep, d.now())
		for _, build := range builds {
			candidates = append(candidates, candidate{target: target, build: build})
		}
	}

	candidates, err := d.filterOutDone(ctx, candidates)
	if err != nil {
		return err
	}

	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, c := range candidates {
		g.Go(func() error {
			if err := c.target.Crawler.Crawl(ctx, c.target.Cycle, c.build); err != nil {
				d.logger.Error("indexing failed", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// truncateBuilds keeps the newest builds of a newest-first list, according
// to the maximum days and minimum builds to keep; the minimum wins over the
// age limit.
func truncateBuilds(builds []fetch.Build, minKeep, maxDays int, now time.Time) []fetch.Build {
	minTimestamp := now.AddDate(0, 0, -maxDays).UnixMilli()

	firstTooOld := -1
	for i, build := range builds {
		if build.Timestamp < minTimestamp {
			firstTooOld = i
			break
		}
	}

	keep := max(firstTooOld, minKeep)
	if keep <= 0 || keep > len(builds) {
		return builds
	}
	return builds[:keep]
}

// filterOutDone removes builds whose execution is already stored as DONE:
// those are fully indexed and will never change again.
func (d *Discoverer) filterOutDone(ctx context.Context, candidates []candidate) ([]candidate, error) {
	var jobURLs, jobLinks []string
	for _, c := range candidates {
		if c.build.URL != "" {
			jobURLs = append(jobURLs, c.build.URL)
		}
		if c.build.Link != "" {
			jobLinks = append(jobLinks, c.build.Link)
		}
	}

	doneURLs, err := d.db.DoneJobURLs(ctx, jobURLs)
	if err != nil {
		return nil, err
	}
	doneLinks, err := d.db.DoneJobLinks(ctx, jobLinks)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(doneURLs)+len(doneLinks))
	for _, u := range doneURLs {
		done[u] = true
	}
	for _, l := range doneLinks {
		done[l] = true
	}

	kept := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if (c.build.URL != "" && done[c.build.URL]) || (c.build.Link != "" && done[c.build.Link]) {
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}
