package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kirillkom/evidence-journal/internal/infrastructure/rulesconfig"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the document type rule table",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Load and validate a rule table; without a path the built-in table is checked",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		ruleSet, err := rulesconfig.Load(path)
		if err != nil {
			return err
		}

		types := make([]string, 0, len(ruleSet.Rules))
		for _, t := range ruleSet.Types() {
			types = append(types, string(t))
		}
		sort.Strings(types)

		source := path
		if source == "" {
			source = "built-in"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d document types\n", source, len(types))
		for _, t := range types {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", t)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
