package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/sapling/internal/config"
	"github.com/jward/sapling/internal/grammar"
	"github.com/jward/sapling/internal/store"
)

// metaLanguagesUpdated records when lang update last ran.
const metaLanguagesUpdated = "languages_updated_at"

var flagScopes string

var langCmd = &cobra.Command{
	Use:   "lang",
	Short: "Manage installed languages",
	Long:  "Lists the language catalogue and edits the ledger of installed languages. Changes take effect the next time an engine starts.",
}

var langListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known language and whether it is installed",
	Args:  cobra.NoArgs,
	RunE:  runLangList,
}

var langInstallCmd = &cobra.Command{
	Use:   "install <language...>",
	Short: "Install languages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLangInstall,
}

var langRemoveCmd = &cobra.Command{
	Use:   "remove <language...>",
	Short: "Remove installed languages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLangRemove,
}

var langUpdateCmd = &cobra.Command{
	Use:   "update [language...]",
	Short: "Mark installed languages as updated (all when none are named)",
	RunE:  runLangUpdate,
}

func init() {
	langInstallCmd.Flags().StringVar(&flagScopes, "scopes", "", "comma-separated scopes replacing the built-in ones")

	langCmd.AddCommand(langListCmd)
	langCmd.AddCommand(langInstallCmd)
	langCmd.AddCommand(langRemoveCmd)
	langCmd.AddCommand(langUpdateCmd)
}

// withLedger loads config and opens the ledger for fn.
func withLedger(cmd *cobra.Command, command string, fn func(cfg *config.Config, ledger *store.Store) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return outputError(command, err)
	}
	ledger, err := openLedger(cfg.DBPath)
	if err != nil {
		return outputError(command, err)
	}
	defer ledger.Close()

	results, err := fn(cfg, ledger)
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(cmd.OutOrStdout(), CLIResult{Command: command, Results: results})
}

func runLangList(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, "lang list", func(cfg *config.Config, ledger *store.Store) (any, error) {
		return listLanguages(cfg, ledger)
	})
}

func runLangInstall(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, "lang install", func(cfg *config.Config, ledger *store.Store) (any, error) {
		return installLanguages(cfg, ledger, args, splitScopes(flagScopes))
	})
}

func runLangRemove(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, "lang remove", func(cfg *config.Config, ledger *store.Store) (any, error) {
		for _, name := range args {
			if err := ledger.RemoveLanguage(name); err != nil {
				return nil, err
			}
		}
		return listLanguages(cfg, ledger)
	})
}

func runLangUpdate(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, "lang update", func(cfg *config.Config, ledger *store.Store) (any, error) {
		return updateLanguages(cfg, ledger, args, time.Now())
	})
}

// listLanguages describes the catalogue, plus any ledger entry it lacks.
func listLanguages(cfg *config.Config, ledger *store.Store) ([]CLILanguage, error) {
	rows, err := ledger.InstalledLanguages()
	if err != nil {
		return nil, err
	}
	installed := make(map[string]*store.Language, len(rows))
	for _, l := range rows {
		installed[l.Name] = l
	}

	names := grammar.Languages()
	for name := range installed {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	out := make([]CLILanguage, 0, len(names))
	for _, name := range names {
		l := CLILanguage{
			Name:       name,
			Scopes:     grammar.DefaultScopes(name),
			Configured: slices.Contains(cfg.InstalledLanguages, name),
		}
		if scopes, ok := cfg.LanguageNameToScopes[name]; ok {
			l.Scopes = scopes
		}
		if row, ok := installed[name]; ok {
			l.Installed = true
			l.InstalledAt = row.InstalledAt.Format(time.RFC3339)
			l.UpdatedAt = row.UpdatedAt.Format(time.RFC3339)
			if len(row.Scopes) > 0 {
				l.Scopes = row.Scopes
			}
		}
		out = append(out, l)
	}
	return out, nil
}

// installLanguages records each name in the ledger. Names outside the
// catalogue are rejected.
func installLanguages(cfg *config.Config, ledger *store.Store, names, scopes []string) ([]CLILanguage, error) {
	for _, name := range names {
		if _, ok := grammar.Builtin(name); !ok {
			return nil, fmt.Errorf("%s: %w", name, grammar.ErrUnknownLanguage)
		}
	}
	for _, name := range names {
		if err := ledger.InstallLanguage(name, scopes); err != nil {
			return nil, err
		}
	}
	return listLanguages(cfg, ledger)
}

// updateLanguages refreshes the named installed languages, or all of them.
func updateLanguages(cfg *config.Config, ledger *store.Store, names []string, now time.Time) ([]CLILanguage, error) {
	if len(names) == 0 {
		rows, err := ledger.InstalledLanguages()
		if err != nil {
			return nil, err
		}
		for _, l := range rows {
			names = append(names, l.Name)
		}
	}
	for _, name := range names {
		if err := ledger.TouchLanguage(name); err != nil {
			return nil, err
		}
	}
	if err := ledger.SetMetadata(metaLanguagesUpdated, now.UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	return listLanguages(cfg, ledger)
}

func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}
