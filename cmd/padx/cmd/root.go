// Package cmd implements the padx command line tool.
package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

var (
	version = "1.0.0"

	// Global flags
	verbose       bool
	outputFormat  string
	schemaVersion string
)

var rootCmd = &cobra.Command{
	Use:   "padx",
	Short: "Work with PADnext deliveries",
	Long: `padx validates, inspects, packs and tracks PADnext documents.

Examples:
  # Validate orders, receipts and billing documents
  padx validate *.xml

  # Pack an order with its billing document for the receiver's key
  padx pack --order order_auf.xml --key receiver.pub.pem rechnungen_padx.xml

  # Record a sent order and its receipt in a local journal
  padx track register order_auf.xml
  padx track receipt quittung.xml`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&schemaVersion, "schema", "s", "", "Target schema version (default: the document's own)")
}

// newLogger logs to stderr in verbose mode and discards otherwise
func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// targetVersion returns the --schema flag, falling back to the latest
// revision for commands that need one
func targetVersion() string {
	if schemaVersion != "" {
		return schemaVersion
	}
	return schema.Latest.String()
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
