package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/sapling"
	"github.com/jward/sapling/internal/config"
	"github.com/jward/sapling/internal/grammar"
	"github.com/jward/sapling/internal/logging"
	"github.com/jward/sapling/internal/store"
)

var (
	flagConfig string
	flagDB     string
	flagFormat string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sapling",
	Short:         "Incremental tree-sitter syntax trees for live buffers",
	Long:          "Sapling keeps a tree-sitter syntax tree for every open buffer in step with its edits, and manages the languages it can parse.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (SAPLING_* environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "language ledger path (default: db_path from config)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(langCmd)
}

// loadConfig reads the config file and environment, then applies --db.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return cfg, nil
}

// host is everything a command needs to run an engine.
type host struct {
	cfg         *config.Config
	logger      *zap.Logger
	ledger      *store.Store
	registry    *grammar.Registry
	provisioner *grammar.Provisioner
}

func (h *host) Close() {
	if h.ledger != nil {
		h.ledger.Close()
	}
	_ = h.logger.Sync()
}

// setup loads config, opens the ledger and provisions every installed
// language. Provisioning failures are logged, not fatal.
func setup() (*host, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	ledger, err := openLedger(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	installed, overrides, err := languagePlan(cfg, ledger)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	reg := grammar.NewRegistry()
	prov := grammar.NewProvisioner(reg,
		grammar.WithScopeOverrides(overrides),
		grammar.WithLogger(logger.Named("grammar")),
	)
	res, _ := prov.Provision(installed)
	logger.Debug("languages provisioned",
		zap.Strings("languages", res.Languages),
		zap.Int("scopes", reg.Len()),
		zap.Int("failed", len(res.Failed)))

	return &host{cfg: cfg, logger: logger, ledger: ledger, registry: reg, provisioner: prov}, nil
}

// languagePlan merges configured and ledger-installed languages. Configured
// scope overrides win over ledger ones.
func languagePlan(cfg *config.Config, ledger *store.Store) ([]string, map[string][]string, error) {
	rows, err := ledger.InstalledLanguages()
	if err != nil {
		return nil, nil, err
	}
	names := slices.Clone(cfg.InstalledLanguages)
	for _, l := range rows {
		names = append(names, l.Name)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	overrides, err := ledger.ScopeOverrides()
	if err != nil {
		return nil, nil, err
	}
	maps.Copy(overrides, cfg.LanguageNameToScopes)
	return names, overrides, nil
}

// openLedger opens and migrates the ledger, creating its directory.
func openLedger(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	s, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	return s, nil
}

// newEngine builds an engine from the host config and registry.
func (h *host) newEngine(reg prometheus.Registerer) *sapling.Engine {
	return sapling.New(h.registry,
		sapling.WithMaxTrees(h.cfg.MaxCachedTrees),
		sapling.WithLogger(h.logger.Named("engine")),
		sapling.WithVerifyEdits(h.cfg.Debug),
		sapling.WithRegisterer(reg),
		sapling.WithDebounce(h.debounceFor),
	)
}

func (h *host) debounceFor(scope string) time.Duration {
	lang, ok := h.provisioner.LanguageForScope(scope)
	if !ok {
		return 0
	}
	return h.cfg.DebounceFor(lang)
}
