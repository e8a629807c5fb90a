package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/lidmon/internal/config"
	"github.com/BrandonDHaskell/lidmon/internal/db"
	sqlitestore "github.com/BrandonDHaskell/lidmon/internal/lidmon/store/sqlite"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "lidmon",
	Short:         "Record laptop lid open/close transitions into SQLite",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $LIDMON_CONFIG or ./lidmon.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lidmon: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func newLogger(cfg config.Config, w io.Writer) *log.Logger {
	flags := log.LstdFlags | log.LUTC
	if cfg.Env == "dev" {
		flags |= log.Lmicroseconds
	}
	return log.New(w, "lidmon ", flags)
}

// stores holds the SQLite stores behind the single writer goroutine.
type stores struct {
	writer   *db.Worker
	events   *sqlitestore.LidEventStore
	sessions *sqlitestore.SessionStore
}

func openStores(cfg config.Config) *stores {
	dbc := db.Config{Path: cfg.DBPath}
	w := db.NewWorker(db.Opener(dbc))
	return &stores{
		writer:   w,
		events:   sqlitestore.NewLidEventStore(dbc, w),
		sessions: sqlitestore.NewSessionStore(dbc, w),
	}
}

func (s *stores) Close() { s.writer.Close() }
