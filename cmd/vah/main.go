package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vah-pprl/vah/pkg/hardening"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	config     *Config
	runtimeEnv Env
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vah",
	Short: "Vulnerability-aware hardening for q-gram record linkage datasets",
	Long: `vah hardens the q-gram sets of a sensitive dataset against frequency
attacks. It selects the most frequent q-grams of a public dataset as the
vulnerable ones, builds reference sets from their co-occurring q-grams, and
replaces each vulnerable q-gram in the sensitive records with a qualified
token derived from the most similar reference set.

The replacement choices are driven by a secret seed taken from the
VAH_SECRET_SEED environment variable. The same inputs and seed always
produce the same hardened output.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		runtimeEnv, err = loadEnv()
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel)}))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vah %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// databaseFilePath strips driver parameters from a DSN so the parent
// directory can be created before the driver opens the file.
func databaseFilePath(dsn string) string {
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		return dsn[:i]
	}
	return dsn
}

// openHardener opens the store database, ensures the schema exists and
// prepares the statement set. The caller closes both return values.
func openHardener() (*sql.DB, *hardening.Hardener, error) {
	if dir := filepath.Dir(databaseFilePath(config.DatabasePath)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := initDB(config.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = hardening.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to set up schema: %w", err)
	}
	h, err := hardening.NewHardener(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	h.SetLogger(logger)
	return db, h, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.json", "path to the JSON config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hardenCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(refsetsCmd)
	rootCmd.AddCommand(presetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
