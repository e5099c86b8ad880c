package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/transcendence/internal/config"
	"github.com/rewired-gh/transcendence/internal/logger"
)

var (
	configPath string
	envPath    string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "transcendence",
	Short:         "Rate chess-playing language models against Stockfish with Glicko-2",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; values already in the environment win.
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		logger.Info("Configuration loaded from %s", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to an optional dotenv file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
