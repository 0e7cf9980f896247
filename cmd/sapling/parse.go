package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/sapling"
	"github.com/jward/sapling/internal/grammar"
)

var (
	flagScope string
	flagQuery string
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a file and print its syntax tree",
	Long:  "Parses a file with the grammar of its scope, inferred from the extension unless --scope is given, and prints the tree as an s-expression.",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().StringVar(&flagScope, "scope", "", "scope to parse with (default: inferred from the file extension)")
	parseCmd.Flags().StringVar(&flagQuery, "query", "", "tree-sitter query to run over the tree")
}

func runParse(cmd *cobra.Command, args []string) error {
	path := args[0]
	src, err := os.ReadFile(path)
	if err != nil {
		return outputError("parse", err)
	}

	scope := flagScope
	if scope == "" {
		s, ok := grammar.ScopeForFile(path)
		if !ok {
			return outputError("parse", fmt.Errorf("no scope known for %s; pass --scope", path))
		}
		scope = s
	}

	h, err := setup()
	if err != nil {
		return outputError("parse", err)
	}
	defer h.Close()

	engine := h.newEngine(nil)
	defer engine.Close()

	tree, err := engine.ParseString(context.Background(), scope, string(src))
	if err != nil {
		return outputError("parse", fmt.Errorf("%w (is its language installed?)", err))
	}

	summary, err := summarize(tree, scope, flagQuery)
	if err != nil {
		return outputError("parse", err)
	}
	summary.File = path
	return outputResult(cmd.OutOrStdout(), CLIResult{Command: "parse", Results: summary})
}

// summarize describes tree, running pattern over it when non-empty.
func summarize(tree *sapling.Tree, scope, pattern string) (CLITree, error) {
	out := CLITree{
		Scope:    scope,
		Bytes:    len(tree.Source()),
		HasError: tree.HasError(),
		Errors:   tree.ErrorCount(),
		Tree:     tree.String(),
	}
	if pattern == "" {
		return out, nil
	}
	matches, err := tree.Query(pattern, nil)
	if err != nil {
		return CLITree{}, err
	}
	out.Captures = capturesOf(matches)
	return out, nil
}

func capturesOf(matches []sapling.Match) []CLICapture {
	var caps []CLICapture
	for _, m := range matches {
		for _, c := range m {
			caps = append(caps, CLICapture{
				Name:      c.Name,
				Type:      c.Type,
				StartByte: c.StartByte,
				EndByte:   c.EndByte,
				StartLine: c.StartPoint.Row,
				StartCol:  c.StartPoint.Column,
				Text:      c.Text,
			})
		}
	}
	return caps
}
