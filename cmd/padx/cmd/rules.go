package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

var rulesCmd = &cobra.Command{
	Use:   "rules [auftrag|quittung|rechnungen]",
	Short: "Print the field requirements of a schema version",
	Long: `Lists every described field and whether it is required, optional or
absent in the selected schema version (--schema, default latest).

Examples:
  padx rules auftrag --schema 2.10`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"auftrag", "quittung", "rechnungen"},
	RunE:      runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

type ruleRow struct {
	Path     string `json:"path"`
	Presence string `json:"presence"`
}

func runRules(cmd *cobra.Command, args []string) error {
	var table schema.RuleTable
	switch args[0] {
	case "auftrag":
		table = schema.AuftragRules
	case "quittung":
		table = schema.QuittungRules
	case "rechnungen":
		table = schema.RechnungenRules
	default:
		return fmt.Errorf("unknown document %q", args[0])
	}
	v, err := schema.ParseVersion(targetVersion())
	if err != nil {
		return err
	}

	rows := make([]ruleRow, 0, len(table))
	for _, path := range table.Paths() {
		p, _ := table.Presence(path, v)
		rows = append(rows, ruleRow{Path: path, Presence: p.String()})
	}
	if outputFormat == "json" {
		return printJSON(rows)
	}
	fmt.Printf("%s, schema %s\n", args[0], v)
	for _, r := range rows {
		fmt.Printf("  %-48s %s\n", r.Path, r.Presence)
	}
	return nil
}
