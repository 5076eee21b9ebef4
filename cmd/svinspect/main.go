// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command svinspect exercises a shard's version log from the command
// line: initialize it, print its current rollup registry and frontier,
// and run a dry-run GC sweep without actually deleting anything.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	stateversions "github.com/erigontech/stateversions"
	"github.com/erigontech/stateversions/config"
	"github.com/erigontech/stateversions/internal/trace"
	"github.com/erigontech/stateversions/kv"
	"github.com/erigontech/stateversions/kv/memkv"
)

// inspectTS and inspectUpdates instantiate the generic StateVersions for
// this CLI's purposes: an inspection tool run against an in-memory store
// has no real collection timestamp/update-count type of its own, only a
// scalar stand-in.
type inspectTS int64

func (t inspectTS) Less(o inspectTS) bool { return t < o }

type inspectUpdates int64

func (u inspectUpdates) Plus(o inspectUpdates) inspectUpdates { return u + o }

// handle is the concrete instantiation every subcommand in this file
// operates on.
type handle = stateversions.StateVersions[string, string, inspectTS, inspectUpdates]

func main() {
	logger := trace.New()
	defer logger.Sync()

	app := &cli.App{
		Name:  "svinspect",
		Usage: "inspect and exercise a state versions log shard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "shard", Value: "default", Usage: "shard id to operate on"},
			&cli.StringFlag{Name: "build-version", Value: "dev", Usage: "build version stamped into encoded states"},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "initialize the shard if it does not already exist",
				Action: func(c *cli.Context) error {
					return withShard(c, logger, func(ctx context.Context, sv *handle) error {
						s, err := sv.MaybeInitShard(ctx)
						if err != nil {
							return err
						}
						logger.Info("shard initialized", "shard", c.String("shard"), "seqno", s.SeqNo.String())
						return nil
					})
				},
			},
			{
				Name:  "inspect",
				Usage: "print the shard's current rollup registry and frontier",
				Action: func(c *cli.Context) error {
					return withShard(c, logger, func(ctx context.Context, sv *handle) error {
						s, err := sv.FetchCurrentState(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("seqno: %s\n", s.SeqNo)
						fmt.Printf("rollups registered: %d\n", len(s.Rollups))
						for seq, key := range s.Rollups {
							fmt.Printf("  %s -> %s\n", seq, key)
						}
						return nil
					})
				},
			},
			{
				Name:  "gc-dry-run",
				Usage: "list the leaked rollups a GC sweep would reclaim, without deleting them (diff truncation is not reported)",
				Action: func(c *cli.Context) error {
					return withShard(c, logger, func(ctx context.Context, sv *handle) error {
						leaked, err := sv.DetectLeakedRollups(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("leaked rollups: %d\n", len(leaked))
						for _, key := range leaked {
							fmt.Println("  " + key)
						}
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("svinspect failed", "err", err)
		os.Exit(1)
	}
}

// withShard opens an in-memory-backed handle scoped to the --shard flag,
// runs fn, and tears it down. svinspect has no durable backend of its
// own; it's a scratchpad for exercising the log's behavior, not a
// production inspection tool (see DESIGN.md).
func withShard(c *cli.Context, logger *trace.Logger, fn func(ctx context.Context, sv *handle) error) error {
	cfg, err := config.New(c.String("build-version"))
	if err != nil {
		return err
	}
	consensus := memkv.NewConsensus()
	blob := memkv.NewBlob()
	sv := stateversions.NewStateVersions[string, string, inspectTS, inspectUpdates](cfg, consensus, blob, prometheus.NewRegistry(), kv.ShardId(c.String("shard")))
	defer sv.Close()

	ctx := trace.Into(context.Background(), logger)
	return fn(ctx, sv)
}
