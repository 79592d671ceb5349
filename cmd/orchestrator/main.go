package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Aimtara/teachmo-sub002/internal/config"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
)

// #region root

var (
	cfgFile string
	envFile string
	output  string

	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Family attention orchestrator",
	Long: `orchestrator turns school and home signals into a small number of
well-timed actions per family.

Commands:
  serve    Run the scheduler, signal consumer and metrics endpoint
  ingest   Ingest signals from a file or stdin
  daily    Build daily plans
  weekly   Build weekly briefs and tune setpoints
  reap     Restore expired mitigations
  deliver  Hand queued digest items to the relay
  inspect  Show what the store holds for one family
  replay   Replay a fixture through a fresh engine
  export   Write a family's signal history as a replay fixture`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside development.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("ORCH_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
}

// #endregion root

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
