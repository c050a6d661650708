// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/config"
	"github.com/faultlineio/faultline/services/ingest"
	"github.com/spf13/cobra"
)

var (
	configFile string
	watchLogs  bool
	replayDir  string
	lineDelay  time.Duration
	loopReplay bool
	topK       int
)

var rootCmd = &cobra.Command{
	Use:   "faultline",
	Short: "Incident pipeline for telecom fault logs",
	Long: `Faultline ingests raw network fault logs, simulates a corrective
action, classifies severity, writes a root-cause-analysis report, and
serves semantic retrieval over the accumulated reports.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.faultline/faultline.yaml)")

	runCmd.Flags().BoolVar(&watchLogs, "watch", false, "keep watching the log directory for new files")
	produceCmd.Flags().StringVar(&replayDir, "dir", "", "replay every log file in this directory")
	produceCmd.Flags().DurationVar(&lineDelay, "delay", 50*time.Millisecond, "pause between published lines")
	produceCmd.Flags().BoolVar(&loopReplay, "loop", false, "replay forever until interrupted")
	searchCmd.Flags().IntVarP(&topK, "top", "k", 5, "number of results")
	askCmd.Flags().IntVarP(&topK, "top", "k", 5, "number of passages to retrieve")

	indexCmd.AddCommand(indexInitCmd, indexRebuildCmd)
	rootCmd.AddCommand(runCmd, streamCmd, produceCmd, serveCmd, indexCmd, searchCmd, askCmd)
}

func loadConfig() (config.Config, error) {
	if configFile != "" {
		return config.LoadFrom(configFile)
	}
	return config.Load()
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp handles the shared lifecycle: config, tracing, wiring, cleanup.
func withApp(requireVector bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	cleanup, err := initTracer(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer cleanup(context.Background())

	a, err := buildApp(cfg, requireVector)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

// runPool starts the worker pool, runs fn to feed it, then drains.
func runPool(ctx context.Context, a *app, fn func(ctx context.Context) error) error {
	poolErr := make(chan error, 1)
	go func() { poolErr <- a.pool.Run(ctx) }()

	feedErr := fn(ctx)

	a.pool.Close()
	drainErr := <-poolErr
	if drainErr != nil && errors.Is(drainErr, context.Canceled) {
		drainErr = nil
	}

	if feedErr != nil && !errors.Is(feedErr, context.Canceled) {
		return feedErr
	}
	return drainErr
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the log directory through the incident pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(ctx context.Context, a *app) error {
			scanner := a.scanner()
			return runPool(ctx, a, func(ctx context.Context) error {
				if watchLogs {
					return scanner.Watch(ctx)
				}
				n, err := scanner.Scan(ctx)
				if err != nil {
					return err
				}
				a.log.Info("batch scan complete", "submitted", n)
				return nil
			})
		})
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Consume log lines from Kafka with debounce windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(ctx context.Context, a *app) error {
			consumer, err := ingest.NewConsumer(a.cfg.Stream, a.cfg.Paths.IngestedDir, a.pool, a.log)
			if err != nil {
				return err
			}
			return runPool(ctx, a, consumer.Run)
		})
	},
}

var produceCmd = &cobra.Command{
	Use:   "produce [file...]",
	Short: "Replay log files onto the stream topic, line by line",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if replayDir == "" && len(args) == 0 {
			replayDir = cfg.Paths.LogsDir
		}

		ctx, stop := signalContext()
		defer stop()

		producer := ingest.NewProducer(cfg.Stream, lineDelay, nil)
		defer producer.Close()

		total := 0
		for {
			if replayDir != "" {
				n, err := producer.ReplayDir(ctx, replayDir)
				total += n
				if err != nil {
					return err
				}
			}
			for _, file := range args {
				n, err := producer.ReplayFile(ctx, file)
				total += n
				if err != nil {
					return err
				}
			}
			if !loopReplay || ctx.Err() != nil {
				break
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d lines to %s\n", total, cfg.Stream.Topic)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(ctx context.Context, a *app) error {
			server := a.dashboard()
			return runPool(ctx, a, func(ctx context.Context) error {
				return server.Run(ctx, a.cfg.Dashboard.Port)
			})
		})
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the semantic RCA index",
}

var indexInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the Weaviate class for RCA chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(ctx context.Context, a *app) error {
			return a.vector.EnsureSchema(ctx)
		})
	},
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-index every completed RCA from the incident store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(ctx context.Context, a *app) error {
			if err := a.vector.CheckSchema(ctx); err != nil {
				return err
			}
			all, err := a.store.List()
			if err != nil {
				return err
			}
			indexed := 0
			for _, inc := range all {
				if inc.RCADocument == "" {
					continue
				}
				if err := a.vector.IndexReport(ctx, inc); err != nil {
					return fmt.Errorf("index %s: %w", inc.ID, err)
				}
				indexed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d reports\n", indexed)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed RCA reports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(ctx context.Context, a *app) error {
			if err := a.vector.CheckSchema(ctx); err != nil {
				return err
			}
			query := joinArgs(args)
			hits, err := a.vector.Search(ctx, query, topK)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}
			for i, hit := range hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.2f] %s (incident %s, %s)\n%s\n\n",
					i+1, hit.Certainty, hit.Source, hit.IncidentID, hit.Severity, hit.Content)
			}
			return nil
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed RCA reports, with citations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(ctx context.Context, a *app) error {
			if err := a.vector.CheckSchema(ctx); err != nil {
				return err
			}
			question := joinArgs(args)
			hits, err := a.vector.Search(ctx, question, topK)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no indexed RCA content matched the question")
				return nil
			}

			passages := make([]agents.Passage, 0, len(hits))
			for _, hit := range hits {
				passages = append(passages, agents.Passage{Source: hit.Source, Content: hit.Content})
			}
			answer, err := a.answerer.Answer(ctx, question, passages)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		})
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, arg := range args[1:] {
		out += " " + arg
	}
	return out
}
