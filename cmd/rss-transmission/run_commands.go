package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"rss_transmission/internal/config"
	"rss_transmission/internal/fetcher"
	"rss_transmission/internal/notify"
	"rss_transmission/internal/pipeline"
	"rss_transmission/internal/runlock"
	"rss_transmission/internal/submitter"
	"rss_transmission/internal/tracker"
	"rss_transmission/internal/transmission"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check every feed once and submit new matching items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(cmd, func(runCtx context.Context, runner *pipeline.Runner) error {
				sum := runner.Run(runCtx)
				fmt.Fprintf(cmd.OutOrStdout(),
					"Checked %d feeds: %d submitted, %d failed, %d of %d retries recovered\n",
					sum.Feeds, sum.Submitted, sum.Failed, sum.Recovered, sum.Retried)
				return nil
			})
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run continuously, checking feeds on a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			return ctx.withRunner(cmd, func(runCtx context.Context, runner *pipeline.Runner) error {
				runner.RunEvery(runCtx, interval)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 15*time.Minute, "Time between runs")
	return cmd
}

// withRunner builds the pipeline from the loaded config and calls fn while
// holding the database lock.
func (c *commandContext) withRunner(cmd *cobra.Command, fn func(context.Context, *pipeline.Runner) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log, cmd.ErrOrStderr())

	lock, err := runlock.Acquire(runlock.PathFor(cfg.Persistence.Path))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("release run lock", "error", err)
		}
	}()

	store, err := c.openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cfg.PrepareDirectories(log)

	history := tracker.NewHistory(store, log)
	retries := tracker.NewRetries(store, log)

	client := transmission.New(cfg.Transmission.URL, cfg.Transmission.Username, cfg.Transmission.Password, &http.Client{})
	sub := submitter.New(client, history, log)
	sub.SetTimeout(cfg.SubmitTimeout())
	sub.SetNotifyTimeout(cfg.SubmitTimeout())
	if n := newNotifier(cfg, log); n != nil {
		sub.SetNotifier(n)
	}

	runner := pipeline.New(
		cfg.ModelFeeds(),
		cfg.BaseDownloadDir,
		fetcher.New(&http.Client{}),
		tracker.Horizon{History: history, Retries: retries},
		sub,
		log,
	)
	runner.SetFetchTimeout(cfg.FetchTimeout())
	runner.SetConcurrency(cfg.Concurrency)

	return fn(cmd.Context(), runner)
}

// newNotifier returns nil when notifications are disabled or the bot cannot
// be reached. Neither stops a run.
func newNotifier(cfg *config.Config, log *slog.Logger) submitter.Notifier {
	if cfg.Telegram.Token == "" {
		return nil
	}
	n, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.SubmitTimeout())
	if err != nil {
		log.Warn("telegram notifications disabled", "error", err)
		return nil
	}
	return n
}
