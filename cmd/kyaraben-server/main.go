package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kyaraben/kyaraben/internal/config"
)

var (
	configPath string
	dbDSN      string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kyaraben-server",
		Short: "Kyaraben REST API server",
		Long:  "Serves the orchestration API for Android VMs, projects and test campaigns",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides configuration)")

	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if dbDSN != "" {
		cfg.DB.DSN = dbDSN
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func logFormat(cfg *config.Config) string {
	if cfg.Log.JSONFormat {
		return "json"
	}
	return "text"
}
