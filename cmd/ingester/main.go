// Command ingester crawls the Riot API into a relational store.
//
//	ingester run player-list|match-list|match-detail|derive-performance|derive-frames [--live]|derive-matchups|all
//	ingester check-key
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riot-ingester/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "ingester",
	Short:         "Tiered Riot API ingestion pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, checkKeyCmd)
}

func main() {
	// Load .env file - try multiple locations
	envFile := ""
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			envFile = path
			break
		}
	}

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(exitConfig)
	}
	runID = uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	if envFile != "" {
		logger.Debug("loaded .env", zap.String("path", envFile))
	}
	baseLogger = logger

	err = rootCmd.ExecuteContext(context.Background())
	code := exitCode(err)
	if err != nil {
		logger.Error("ingester exited", zap.Int("exit_code", code), zap.Error(err))
	}
	_ = logger.Sync()
	os.Exit(code)
}

var (
	// baseLogger carries the run id; commands derive their loggers from it.
	baseLogger = zap.NewNop()
	runID      string
)
