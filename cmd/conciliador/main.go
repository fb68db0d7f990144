// Package main provides the conciliador command: the filing API server and
// its operational subcommands.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/conciliation-filer/internal/config"
	"github.com/jonathan/conciliation-filer/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conciliador",
	Short: "Labor conciliation filing service",
	Long: "conciliador files pre-judicial conciliation requests with Mexico's federal and local " +
		"conciliation centers: it decides competence, computes prescription deadlines and drives the authority portals.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default ./configs/config.yaml or ./config.yaml)")
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. The closer flushes any log file.
func newLogger(cfg *config.Config) (*logrus.Logger, io.Closer) {
	return logger.New(cfg.Log)
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
