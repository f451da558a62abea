package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riot-ingester/internal/config"
	"riot-ingester/internal/notify"
	"riot-ingester/internal/riot"
)

var checkKeyCmd = &cobra.Command{
	Use:   "check-key",
	Short: "validate the configured Riot API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := baseLogger.With(zap.String("command", "check-key"))

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		var notifier *notify.WebhookClient
		if cfg.DiscordWebhookURL != "" {
			notifier = notify.NewWebhookClient(cfg.DiscordWebhookURL, notify.WithKeyLabel(cfg.MaskedKey()))
		}
		return checkKey(cmd.Context(), cfg, notifier, logger)
	},
}

// checkKey fails with riot.ErrForbidden when the key is rejected. An
// inconclusive check is logged and let through.
func checkKey(ctx context.Context, cfg *config.Config, notifier *notify.WebhookClient, logger *zap.Logger) error {
	check := riot.NewKeyCheck(cfg.Regions[0], riot.CheckTimeout(cfg.HTTPTimeout))

	status, err := check.Run(ctx, cfg.RiotAPIKey)
	switch {
	case err == nil:
		logger.Info("api key accepted",
			zap.String("platform", status.ID),
			zap.Int("incidents", len(status.Incidents)),
			zap.Int("maintenances", len(status.Maintenances)))
		return nil
	case errors.Is(err, riot.ErrForbidden):
		if notifier != nil {
			if nerr := notifier.KeyRejected(ctx, riot.Status(err)); nerr != nil {
				logger.Warn("key rejection notification failed", zap.Error(nerr))
			}
		}
		return errors.Wrapf(err, "api key %s rejected", cfg.MaskedKey())
	default:
		logger.Warn("could not check api key, continuing", zap.String("kind", riot.Kind(err)), zap.Error(err))
		return nil
	}
}
