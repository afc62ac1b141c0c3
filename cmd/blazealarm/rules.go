package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect dispatch rule tables",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check that a rule table parses and names only known handlers",
	Long: `Validate loads a rule table and checks every rule references a
registered handler. Without a file argument the table configured in
dispatch.rules_file is checked, or the embedded default table when none is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Dispatch.RulesFile
		}
		return validateRules(cmd.OutOrStdout(), path)
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
}

func isKnownHandler(name string) bool {
	return slices.Contains(knownHandlers, name)
}

// validateRules loads path (or the embedded table) and prints a summary.
func validateRules(w io.Writer, path string) error {
	table, err := loadRuleTable(path)
	if err != nil {
		return err
	}
	if err := table.CheckHandlers(isKnownHandler); err != nil {
		return fmt.Errorf("check rules: %w", err)
	}

	source := path
	if source == "" {
		source = "embedded default table"
	}
	enabled := 0
	for _, r := range table.Rules() {
		if r.IsEnabled() {
			enabled++
		}
	}
	fmt.Fprintf(w, "%s: %d rules (%d enabled), topics: %s\n",
		source, len(table.Rules()), enabled, strings.Join(table.Topics(), ", "))
	return nil
}
