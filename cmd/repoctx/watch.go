package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/repoctx/internal/config"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/watch"
)

// watchRetrieve prints a ranking, then a fresh one after every batch of
// file changes, until ctx is cancelled.
func watchRetrieve(ctx context.Context, out io.Writer, a *app, repo repository.Repo, cfg *config.Config, flags *retrieveFlags, query string) error {
	w, err := watch.New(repo.Root(), a.logger.Named("watch"), watch.WithExcludeDirs(cfg.Scan.ExcludeDirs...))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error {
		if err := retrieveOnce(ctx, out, a, repo, cfg, flags, query); err != nil {
			return err
		}
		for change := range w.Changes() {
			a.logger.Info("repository changed", zap.Strings("paths", change.Paths))
			fmt.Fprintf(out, "\n--- %d file(s) changed, re-ranking ---\n", len(change.Paths))
			if err := retrieveOnce(ctx, out, a, repo, cfg, flags, query); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
