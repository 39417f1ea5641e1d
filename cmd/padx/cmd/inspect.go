package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-padnext/internal/padnext/codec"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Summarize a PADnext document",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// Summary describes a decoded document
type Summary struct {
	Root           string   `json:"root"`
	Version        string   `json:"version"`
	TransferNumber int      `json:"transfer_number,omitempty"`
	SenderID       int      `json:"sender_id,omitempty"`
	RecipientID    int      `json:"recipient_id,omitempty"`
	Created        string   `json:"created,omitempty"`
	Files          []string `json:"files,omitempty"`
	Status         int      `json:"status,omitempty"`
	Received       string   `json:"received,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	Invoices       int      `json:"invoices,omitempty"`
	Issues         int      `json:"issues"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	m, err := codec.Decode(data, schemaVersion)
	if m == nil {
		return err
	}
	if err != nil {
		printVerbose("%s: %v\n", args[0], err)
	}

	s := summarize(m)
	if outputFormat == "json" {
		return printJSON(s)
	}

	fmt.Printf("%s (schema %s)\n", s.Root, s.Version)
	if s.TransferNumber != 0 {
		fmt.Printf("  transfer number: %06d\n", s.TransferNumber)
	}
	switch {
	case m.Auftrag != nil:
		fmt.Printf("  sender:          %d\n", s.SenderID)
		fmt.Printf("  recipient:       %d\n", s.RecipientID)
		fmt.Printf("  created:         %s\n", s.Created)
		for _, f := range s.Files {
			fmt.Printf("  file:            %s\n", f)
		}
	case m.Quittung != nil:
		fmt.Printf("  status:          %d\n", s.Status)
		fmt.Printf("  received:        %s\n", s.Received)
		for _, e := range s.Errors {
			fmt.Printf("  error:           %s\n", e)
		}
	case m.Rechnungen != nil:
		fmt.Printf("  invoices:        %d\n", s.Invoices)
	}
	if s.Issues > 0 {
		fmt.Printf("  %d issue(s) recorded; run validate for details\n", s.Issues)
	}
	return nil
}

func summarize(m *codec.Message) Summary {
	s := Summary{Root: m.Root, Version: m.Version.String(), TransferNumber: m.TransferNumber()}
	switch {
	case m.Auftrag != nil:
		a := m.Auftrag
		s.SenderID = a.SenderID()
		s.RecipientID = a.RecipientID()
		s.Created = a.Erstellungsdatum
		for _, d := range a.Dateien {
			s.Files = append(s.Files, d.Name)
		}
		s.Issues = len(a.Issues)
	case m.Quittung != nil:
		q := m.Quittung
		s.Status = q.StatusCode()
		s.Received = q.Eingangsdatum
		for _, f := range q.Fehler {
			s.Errors = append(s.Errors, f.Art+" "+f.Beschreibung)
		}
		s.Issues = len(q.Issues)
	case m.Rechnungen != nil:
		s.Invoices = len(m.Rechnungen.Rechnungen)
		s.Issues = len(m.Rechnungen.Issues)
	}
	return s
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
