// Package cmd holds the hover CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/logger"
)

var (
	configPath string
	envFile    string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hover",
		Short: "BM25 document retrieval for HoVer claims",
		Long: `hover indexes a Wikipedia abstract dump into an on-disk inverted index
and retrieves the top-k documents for each HoVer claim, scoring titles and
bodies with BM25 and reporting supporting-fact recall and coverage.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("HOVER_CONFIG"), "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with HOVER_* overrides")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	logger.Setup(c.Logging.Level, c.Logging.Format)
	slog.Debug("config loaded", "path", configPath, "index_dir", c.Indexer.DataDir)
	cfg = c
	return nil
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
