// Package cli implements the command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/config/file"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/storage/sqlite"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

var version = "dev"

var (
	flagVerbose   bool
	flagConfigDir string
	flagDataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "secintel",
	Short: "SEC filing intelligence pipeline",
	Long: `secintel discovers new SEC filings from EDGAR, downloads and
sectionizes them, and runs budgeted LLM analysis over the results.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		logger.SetVerbose(flagVerbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "config directory (default ~/.secintel)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.secintel/data)")
}

// Execute runs the CLI with the build version injected by main.
func Execute(buildVersion string) error {
	if buildVersion != "" {
		version = buildVersion
	}
	return rootCmd.Execute()
}

// environment bundles the stores every command needs.
type environment struct {
	config *file.ConfigStore
	store  *sqlite.Store
	cfg    domain.Config
}

func openEnvironment() (*environment, error) {
	configStore, err := file.NewConfigStore(flagConfigDir)
	if err != nil {
		return nil, fmt.Errorf("opening config store: %w", err)
	}
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = configStore.GetString("storage.data_dir")
	}
	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening data store: %w", err)
	}
	return &environment{
		config: configStore,
		store:  store,
		cfg:    file.PipelineConfig(configStore),
	}, nil
}

func (e *environment) close() {
	if err := e.store.Close(); err != nil {
		logger.Warn("closing store: %v", err)
	}
}
