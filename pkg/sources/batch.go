// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/airweave/airweave-go/pkg/logger"
)

// RunPartitions fans a connector's independent work units (tables, repos,
// API resources) across a bounded worker pool. Descriptor.Batch tunes the
// behavior: PreserveOrder forces sequential processing, StopOnError aborts
// the whole run on the first failure instead of logging and moving on.
func RunPartitions[T any](ctx context.Context, opts BatchOptions, partitions []T, fn func(ctx context.Context, partition T) error) error {
	if len(partitions) == 0 {
		return nil
	}

	if opts.PreserveOrder || opts.BatchSize <= 1 {
		for _, p := range partitions {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, p); err != nil {
				if opts.StopOnError {
					return err
				}
				logger.Warnw("partition failed, continuing", "error", err)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.BatchSize)
	for _, p := range partitions {
		g.Go(func() error {
			if err := fn(gctx, p); err != nil {
				if opts.StopOnError {
					return err
				}
				logger.Warnw("partition failed, continuing", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
