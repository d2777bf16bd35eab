package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperengineering/healthsync"
	"github.com/hyperengineering/healthsync/ingest"
	"github.com/hyperengineering/healthsync/internal/profile"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	cfgProfile string
	cfgDBPath  string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "healthsync",
	Short: "healthsync - multi-source health data sync",
	Long: `healthsync pulls health samples from every connected source, flags
where sources disagree, and resolves those conflicts by your priorities.

Sources, tolerances, and strategies are read from a YAML config file
(--config) overlaid with HEALTHSYNC_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfgProfile, "profile", "", "Profile to use (default: $HEALTHSYNC_PROFILE or \"default\")")
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db", "", "Path to the history database (default: derived from profile)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(priorityCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(auditCmd)
}

func loadConfig() (healthsync.Config, error) {
	cfg, err := healthsync.LoadConfig(cfgFile)
	if err != nil {
		return healthsync.Config{}, err
	}

	if cfgProfile != "" && cfgProfile != cfg.Profile {
		if err := profile.Validate(cfgProfile); err != nil {
			return healthsync.Config{}, err
		}
		if cfg.LocalPath == profile.DBPath(cfg.Profile) {
			cfg.LocalPath = profile.DBPath(cfgProfile)
		}
		cfg.Profile = cfgProfile
	}
	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	return cfg, nil
}

// openClient loads configuration, opens the client, and registers every
// configured source with its adapter.
func openClient(ctx context.Context) (*healthsync.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := healthsync.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize client: %w", err)
	}

	for _, sc := range cfg.Sources {
		rememberSecret(os.Getenv(sc.TokenEnv))
		rememberSecret(os.Getenv(sc.ClientSecretEnv))

		adapter, err := ingest.Build(sc)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := client.RegisterSource(ctx, sc.DataSource(), adapter); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("register %s: %w", sc.ID, err)
		}
	}
	return client, nil
}
