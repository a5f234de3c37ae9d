package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pokevault/pokevault/internal/engine"
	"github.com/pokevault/pokevault/internal/queue"
	"github.com/pokevault/pokevault/internal/remote"
	"github.com/pokevault/pokevault/internal/resolve"
	"github.com/pokevault/pokevault/internal/store"
	"github.com/pokevault/pokevault/internal/syncer"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pokevault",
	Short: "Offline-first Pokémon catalog client",
	Long: `pokevault keeps a local catalog that works without a network connection.

Writes always succeed locally and are queued; 'pokevault sync' pushes the
queue to the remote catalog and pulls the latest remote snapshot, resolving
conflicts last-write-wins on each record's updatedAt timestamp.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.pokevault/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "path to the local vault database")
	rootCmd.PersistentFlags().String("api-url", "", "base URL of the remote catalog")

	_ = viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("api_base_url", rootCmd.PersistentFlags().Lookup("api-url"))
}

// initConfig loads configuration from flags, environment, and the
// config file, in that precedence order.
func initConfig() error {
	viper.SetDefault("api_base_url", "http://localhost:3000")
	viper.SetDefault("db_path", defaultDBPath())
	viper.SetDefault("collection", "items")
	viper.SetDefault("catalog_path", "/pokemon")
	viper.SetDefault("page_limit", 150)
	viper.SetDefault("timeout", 15*time.Second)
	viper.SetDefault("serve.port", 9980)
	viper.SetDefault("serve.log_file", "")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".pokevault"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("POKEVAULT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil // defaults are a complete configuration
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pokevault/vault.db"
	}
	return filepath.Join(home, ".pokevault", "vault.db")
}

// openEngine wires the full stack from configuration. The caller must
// invoke the returned cleanup when done.
func openEngine(logger *log.Logger) (*engine.Engine, func(), error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[pokevault] ", log.LstdFlags)
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	client, err := remote.New(&remote.Config{
		BaseURL: viper.GetString("api_base_url"),
		Timeout: viper.GetDuration("timeout"),
		Logger:  logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	collection := viper.GetString("collection")
	q := queue.New(st)
	s := syncer.New(st, q, client, resolve.New(st, logger), &syncer.Config{
		Collection:  collection,
		CatalogPath: viper.GetString("catalog_path"),
		PageLimit:   viper.GetInt("page_limit"),
		Logger:      logger,
	})
	eng := engine.New(st, q, s, client, &engine.Config{Collection: collection, Logger: logger})

	cleanup := func() { _ = st.Close() }
	return eng, cleanup, nil
}
