package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/db"
	"github.com/spearsim/scenebatch/internal/ledger"
	"github.com/spearsim/scenebatch/internal/logging"
	"github.com/spearsim/scenebatch/internal/paths"
)

// errUnitsFailed reports a batch that finished with failed variants or
// aborted minutes. It maps to exit status 2.
var errUnitsFailed = errors.New("some units failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUnitsFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scenebatch",
		Short:         "Generate acoustic scenes and batch-render them for the SPEAR dataset",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, toml or json)")
	pf.String("root", "", "directory that contains the SPEAR tree")
	pf.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	pf.String("data-dir", "", "directory of the run ledger")
	pf.String("blocks-dir", "", "directory with scene block templates overriding the built-in ones")

	root.AddCommand(
		newBatchCmd(commandGenerate),
		newBatchCmd(commandRender),
		newBatchCmd(commandRun),
		newVariantsCmd(),
		newDoctorCmd(),
		newServeCmd(),
	)
	return root
}

// app holds what every command needs after flags are parsed.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *db.DB
	repo     *ledger.SQLiteRepository
	resolver *paths.SPEARResolver
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.New(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LogLevel()), nil
}

// openApp loads configuration and opens the ledger. needRoot rejects an
// unset SPEAR root.
func openApp(cmd *cobra.Command, needRoot bool) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if needRoot && cfg.Root() == "" {
		return nil, fmt.Errorf("the SPEAR root is not set: use --root or %s_ROOT", config.EnvPrefix)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		repo:     ledger.NewRepository(database.Conn()),
		resolver: paths.NewSPEARResolver(cfg.Root()),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
