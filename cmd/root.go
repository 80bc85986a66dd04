package cmd

import (
	"fmt"

	"github.com/abhisek/sensei/internal/config"
	"github.com/abhisek/sensei/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sensei",
	Short: "Rubric-based tutoring engine",
	Long: "Sensei walks learners through rubric goals one concept at a time, judges their\n" +
		"explanations with an LLM and decides when they are ready for instructor feedback.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default $XDG_CONFIG_HOME/sensei/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "SQLite path or Postgres DSN (overrides database.dsn and SENSEI_DB)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(handoffCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// resolveDSN returns the database DSN using --db (highest priority), then
// database.dsn, then SENSEI_DB or the default XDG path.
func resolveDSN(cmd *cobra.Command, cfg *config.Config) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if cfg != nil && cfg.Database.DSN != "" {
		return cfg.Database.DSN, store.EnsureDir(cfg.Database.DSN)
	}
	return store.DefaultDBPath()
}

// openStore loads config and opens the database. Callers close the store.
func openStore(cmd *cobra.Command) (*store.Store, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	dsn, err := resolveDSN(cmd, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return s, cfg, nil
}
