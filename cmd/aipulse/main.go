package main

import (
	"os"

	"github.com/abdulachik/aipulse/internal/config"
	"github.com/abdulachik/aipulse/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aipulse",
	Short: "AI industry news dashboard",
	Long: `AIPulse aggregates AI industry news from Hacker News, GitHub releases
and company blogs, classifies it by company and topic, and serves dashboard
summaries and trends over HTTP.`,
	SilenceUsage: true,
}

func init() {
	// Load .env file if present
	_ = godotenv.Load()

	logging.Init(os.Stderr, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
}

// loadConfig reads the configuration and reinstalls the default logger with
// its level and format.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
