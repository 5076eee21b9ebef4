// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package retry implements the two retry classes the state versions log
// needs: Determinate, for faults a backend can certify did not apply (safe
// to retry immediately, no backoff, no cap), and External, for every other
// transport fault against Consensus or Blob (bounded exponential backoff
// that never gives up on its own — the caller's context is the only way
// out, the same shape as snapshotsync's download-completion poll loop).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/erigontech/stateversions/internal/trace"
)

// Determinate calls fn again for as long as fn reports (false, nil), with
// no sleep between attempts and no cap on their number. It returns nil once
// fn reports done, returns fn's error as soon as fn returns one (no error
// is retried), and returns ctx's error if ctx is done before an attempt.
// fn itself decides when a further attempt is safe and bounds its own
// attempts if it needs a limit.
func Determinate(ctx context.Context, fn func() (done bool, err error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// External retries fn under exponential backoff until it succeeds or ctx
// is done. It never gives up on its own: a Consensus/Blob backend that is
// merely slow or flaky must not cause a caller-visible failure, only
// added latency. Use it only for operations that are safe to repeat
// (reads, and any write whose idempotence the caller has already
// established).
func External(ctx context.Context, logPrefix string, fn func(ctx context.Context) error) error {
	logger := trace.From(ctx)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // never give up; the context is the only way out

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil {
			logger.Warn(fmt.Sprintf("[%s] external operation failed, retrying", logPrefix), "attempt", attempt, "err", err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
