// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gc runs the background truncation/leaked-rollup sweep for a
// shard: a ticker-driven poll loop in the same shape as snapshotsync's
// download-completion wait, repurposed here to call TruncateDiffs and
// DetectLeakedRollups on a schedule instead of polling a downloader.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/erigontech/stateversions/internal/trace"
)

// Target is the subset of StateVersions the GC loop drives. It is defined
// here, not accepted as the concrete root type, so this package has no
// import-cycle dependency on the package that constructs StateVersions.
type Target interface {
	// TruncateDiffs deletes every Consensus diff below the earliest
	// rollup in the current registry (or below seqno_since, if that is
	// lower), reporting how many were removed.
	TruncateDiffs(ctx context.Context) (int, error)
	// DetectLeakedRollups returns the keys of rollup blobs that fall
	// below the earliest registered rollup and are no longer referenced
	// by the current registry, i.e. candidates for DeleteRollup.
	DetectLeakedRollups(ctx context.Context) ([]string, error)
	// DeleteRollup removes a single leaked rollup blob.
	DeleteRollup(ctx context.Context, key string) error
}

// Run polls target every interval until ctx is done, truncating diffs and
// reclaiming leaked rollups each tick. It never returns except via ctx
// cancellation, matching the "poll until done or cancelled" shape used for
// WaitForDownloader; a single tick's errors are logged and do not stop the
// loop, since a GC sweep failing once is not fatal to the shard.
func Run(ctx context.Context, logPrefix string, interval time.Duration, target Target) error {
	logger := trace.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce(ctx, logPrefix, logger, target)
		}
	}
}

func runOnce(ctx context.Context, logPrefix string, logger *trace.Logger, target Target) {
	deleted, err := target.TruncateDiffs(ctx)
	if err != nil {
		logger.Warn(fmt.Sprintf("[%s] truncate diffs failed", logPrefix), "err", err)
	} else if deleted > 0 {
		logger.Info(fmt.Sprintf("[%s] truncated diffs", logPrefix), "count", deleted)
	}

	leaked, err := target.DetectLeakedRollups(ctx)
	if err != nil {
		logger.Warn(fmt.Sprintf("[%s] detect leaked rollups failed", logPrefix), "err", err)
		return
	}
	for _, key := range leaked {
		if err := target.DeleteRollup(ctx, key); err != nil {
			logger.Warn(fmt.Sprintf("[%s] delete leaked rollup failed", logPrefix), "key", key, "err", err)
			continue
		}
		logger.Info(fmt.Sprintf("[%s] reclaimed leaked rollup", logPrefix), "key", key)
	}
}
