// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/caelyn-nl/pagerstream/internal/audit"
	"github.com/caelyn-nl/pagerstream/internal/config"
	"github.com/caelyn-nl/pagerstream/internal/decoder"
	pslog "github.com/caelyn-nl/pagerstream/internal/log"
	"github.com/caelyn-nl/pagerstream/internal/ops"
	"github.com/caelyn-nl/pagerstream/internal/pipeline"
	"github.com/caelyn-nl/pagerstream/internal/queue"
	"github.com/caelyn-nl/pagerstream/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.BuildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults before config parsing; config
	// parsing itself logs at debug level.
	pslog.Configure(pslog.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "pagerstream",
		Version: version.Version,
	})
	logger := pslog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str(pslog.FieldEvent, "config.invalid").
			Msg("invalid configuration")
	}

	logger.Info().
		Str(pslog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.BuildDate).
		Msg("starting pagerstream")
	logger.Info().Msgf("→ Broker: %s (queue: %s, ttl: %s)", cfg.BrokerHost, cfg.Queue, cfg.MessageTTL)
	logger.Info().Msgf("→ Radio: %s @ %d S/s, gain %d", cfg.Frequency, cfg.SampleRate, cfg.Gain)
	logger.Info().Msgf("→ Decoder: %s | %s (%s)", cfg.RTLFMBin, cfg.MultimonBin, cfg.Protocol)
	if cfg.AuditPath != "" {
		logger.Info().Msgf("→ Audit sink: %s", cfg.AuditPath)
	}

	// The audit sink is best-effort from the first byte: if it cannot be
	// opened the agent runs without it.
	var sink *audit.Sink
	if cfg.AuditPath != "" {
		var err error
		sink, err = audit.Open(cfg.AuditPath)
		if err != nil {
			logger.Warn().
				Err(err).
				Str(pslog.FieldEvent, "audit.open_failed").
				Str("path", cfg.AuditPath).
				Msg("audit sink unavailable, continuing without it")
			sink = nil
		}
	}
	defer sink.Close()

	coord := pipeline.New(
		pipeline.Config{
			BackoffUnit: cfg.BackoffUnit,
			BackoffCap:  cfg.BackoffCap,
		},
		pipeline.Deps{
			NewSource: func() pipeline.LineSource {
				return decoder.New(decoder.Config{
					RTLFMBin:     cfg.RTLFMBin,
					Frequency:    cfg.Frequency,
					SampleRate:   cfg.SampleRate,
					Gain:         cfg.Gain,
					MultimonBin:  cfg.MultimonBin,
					Protocol:     cfg.Protocol,
					PollInterval: cfg.PollInterval,
				})
			},
			Connect: func(ctx context.Context) (pipeline.RecordPublisher, error) {
				return queue.Connect(ctx, queue.Config{
					URL:        cfg.BrokerURL(),
					Host:       cfg.BrokerHost,
					Queue:      cfg.Queue,
					MessageTTL: cfg.MessageTTL,
					RetryDelay: cfg.ConnectRetryDelay,
				})
			},
			Sink:   sink,
			Logger: pslog.WithComponent("pipeline"),
		},
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.OpsAddr != "" {
		opsSrv := ops.New(cfg.OpsAddr, coord.State)
		g.Go(func() error {
			return opsSrv.Run(ctx)
		})
	}

	g.Go(func() error {
		return coord.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str(pslog.FieldEvent, "agent.failed").
			Msg("agent failed")
	}

	logger.Info().Msg("agent exiting")
}
