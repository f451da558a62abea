package main

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riot-ingester/internal/archive"
	"riot-ingester/internal/cache"
	"riot-ingester/internal/config"
	"riot-ingester/internal/metrics"
	"riot-ingester/internal/notify"
	"riot-ingester/internal/pipeline"
	"riot-ingester/internal/retry"
	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

var runLive bool

var runCmd = &cobra.Command{
	Use:       "run <stage>",
	Short:     "run one pipeline stage, or all of them",
	Long:      "Runs one stage to completion. Stages read their input from the store, so any stage can be rerun on its own.",
	Args:      stageArgs,
	ValidArgs: pipeline.Stages,
	RunE:      runStage,
}

func init() {
	runCmd.Flags().BoolVar(&runLive, "live", false, "derive-frames: use the live client column set")
}

func stageArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.Mark(errors.Newf("expected one stage, got %d arguments", len(args)), errUsage)
	}
	if !slices.Contains(pipeline.Stages, args[0]) {
		return errors.Wrapf(pipeline.ErrUnknownStage, "%q (want one of %v)", args[0], pipeline.Stages)
	}
	return nil
}

// stageName applies --live to derive-frames.
func stageName(stage string, live bool) string {
	if live && stage == pipeline.StageDeriveFrames {
		return pipeline.StageDeriveFramesLive
	}
	return stage
}

func runStage(cmd *cobra.Command, args []string) error {
	stage := stageName(args[0], runLive)
	logger := baseLogger.With(zap.String("command", "run"))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := pipeline.SetupSignalHandler(cmd.Context(), logger, nil)

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.ValidateKey {
		if err := checkKey(ctx, cfg, deps.notifier, logger); err != nil {
			return err
		}
	}

	var opts []pipeline.RunnerOption
	if deps.archive != nil {
		opts = append(opts, pipeline.WithArchive(deps.archive))
	}
	if deps.notifier != nil {
		opts = append(opts, pipeline.WithNotifier(deps.notifier))
	}

	runner := pipeline.NewRunner(deps.client, deps.store, logger, pipeline.RunnerConfig{
		RunID:          runID,
		Shards:         cfg.Regions,
		Queues:         cfg.Queues,
		LadderWorkers:  cfg.LadderWorkers,
		HarvestWorkers: cfg.HarvestWorkers,
		FetchWorkers:   cfg.FetchWorkers,
		DeriveWorkers:  cfg.DeriveWorkers,
		QueueSize:      cfg.QueueSize,
		MaxMatchIDs:    cfg.MaxMatchIDsPerPlayer,
		FetchTimelines: cfg.FetchTimelines,
	}, opts...)

	_, err = runner.Run(ctx, stage)
	return err
}

// deps holds everything a run needs. Close releases it in reverse order.
type deps struct {
	store     store.Store
	client    *riot.Client
	cooldowns *cache.Cooldowns
	archive   *archive.Rotator
	notifier  *notify.WebhookClient
	logger    *zap.Logger
}

func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{logger: logger}

	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, logger)
	}
	if cfg.DiscordWebhookURL != "" {
		d.notifier = notify.NewWebhookClient(cfg.DiscordWebhookURL, notify.WithKeyLabel(cfg.MaskedKey()))
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	d.store = st
	if err := st.Migrate(ctx); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "migrate store")
	}

	govCfg := riot.GovernorConfig{
		Short:  riot.Limit{Requests: cfg.RateShortRequests, Per: cfg.RateShortWindow},
		Long:   riot.Limit{Requests: cfg.RateLongRequests, Per: cfg.RateLongWindow},
		Logger: logger,
	}
	if cfg.RedisURL != "" {
		cd, err := cache.NewCooldowns(ctx, cfg.RedisURL, logger)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "connect cooldown cache")
		}
		d.cooldowns = cd
		govCfg.Cooldowns = cd
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryAttempts
	retryCfg.InitialDelay = cfg.RetryInitialDelay

	client, err := riot.NewClient(cfg.RiotAPIKey, riot.NewGovernor(govCfg),
		riot.WithLogger(logger),
		riot.WithHTTPTimeout(cfg.HTTPTimeout),
		riot.WithRetry(retryCfg),
	)
	if err != nil {
		d.Close()
		return nil, errors.Mark(err, config.ErrInvalid)
	}
	d.client = client

	if cfg.ArchiveDir != "" {
		rot, err := archive.NewRotator(cfg.ArchiveDir,
			archive.WithLogger(logger),
			archive.WithMaxRecords(cfg.ArchiveMaxRecords),
			archive.WithMaxAge(cfg.ArchiveMaxAge),
		)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "open archive")
		}
		d.archive = rot
		if cfg.ArchiveColdDir != "" {
			if err := rot.SetColdDir(cfg.ArchiveColdDir); err != nil {
				d.Close()
				return nil, errors.Wrap(err, "set archive cold dir")
			}
		}
	}

	logger.Info("ingester wired",
		zap.String("api_key", cfg.MaskedKey()),
		zap.Strings("regions", cfg.Regions),
		zap.Strings("queues", cfg.Queues),
		zap.Bool("shared_cooldowns", d.cooldowns != nil),
		zap.Bool("archive", d.archive != nil),
		zap.Bool("notifications", d.notifier != nil))
	return d, nil
}

func (d *deps) Close() {
	if d.archive != nil {
		if err := d.archive.Close(); err != nil {
			d.logger.Warn("closing archive failed", zap.Error(err))
		}
		if _, err := d.archive.CompressWarm(); err != nil {
			d.logger.Warn("compressing archive failed", zap.Error(err))
		}
	}
	if d.cooldowns != nil {
		_ = d.cooldowns.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing store failed", zap.Error(err))
		}
	}
}
