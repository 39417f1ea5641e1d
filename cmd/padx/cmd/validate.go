package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
	"github.com/drfirst/go-padnext/internal/padnext/validate"
	"github.com/drfirst/go-padnext/pkg/workerpool"
)

var validateWorkers int

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate PADnext documents",
	Long: `Validate orders, receipts and billing documents against their schema
revision. Documents declare their own revision unless --schema is given.

Examples:
  padx validate order_auf.xml
  padx validate --schema 2.12 *.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().IntVarP(&validateWorkers, "workers", "w", runtime.NumCPU(), "Number of files validated concurrently")
}

// FileResult is the validation outcome for one file
type FileResult struct {
	File       string             `json:"file"`
	Root       string             `json:"root,omitempty"`
	Version    string             `json:"version,omitempty"`
	Valid      bool               `json:"valid"`
	Error      string             `json:"error,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files found to validate")
	}

	cfg := workerpool.DefaultConfig()
	cfg.Workers = max(validateWorkers, 1)
	cfg.QueueSize = len(files)
	cfg.MaxRetries = 0
	pool, err := workerpool.New(cfg, validateTask, newLogger())
	if err != nil {
		return err
	}
	pool.Start()
	defer pool.Stop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, file := range files {
		task := &workerpool.Task{ID: file, Payload: file, Context: ctx}
		if err := pool.SubmitBlocking(ctx, task); err != nil {
			return err
		}
	}

	results := make([]FileResult, 0, len(files))
	allValid := true
	for res := range pool.Results() {
		fr := res.Data.(FileResult)
		results = append(results, fr)
		allValid = allValid && fr.Valid
		if len(results) == len(files) {
			break
		}
	}
	sortResults(results, files)

	if outputFormat == "json" {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printResult(r)
		}
	}

	if !allValid {
		return errors.New("validation failed for some files")
	}
	return nil
}

// validateTask never fails; problems are reported in the FileResult
func validateTask(_ context.Context, task *workerpool.Task) *workerpool.Result {
	file := task.Payload.(string)
	return &workerpool.Result{TaskID: task.ID, Success: true, Data: validateFile(file)}
}

func validateFile(file string) FileResult {
	result := FileResult{File: file}
	data, err := os.ReadFile(file)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read file: %v", err)
		return result
	}

	m, err := codec.Decode(data, schemaVersion)
	var parseErr *codec.ParseError
	if m == nil || (err != nil && !(errors.As(err, &parseErr) && errors.Is(err, codec.ErrMissingRequired))) {
		result.Error = err.Error()
		return result
	}
	result.Root = m.Root
	result.Version = m.Version.String()

	v := m.Version
	if schemaVersion != "" {
		if v, err = schema.ParseVersion(schemaVersion); err != nil {
			result.Error = err.Error()
			return result
		}
	}
	res, err := validate.Document(m.Document(), v)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Valid = res.Valid()
	result.Violations = res.Violations
	return result
}

func printResult(r FileResult) {
	switch {
	case r.Error != "":
		fmt.Printf("✗ %s: %s\n", r.File, r.Error)
	case r.Valid:
		fmt.Printf("✓ %s: %s %s VALID\n", r.File, r.Root, r.Version)
	default:
		fmt.Printf("✗ %s: %s %s INVALID\n", r.File, r.Root, r.Version)
		for i := range r.Violations {
			fmt.Printf("  - %s\n", r.Violations[i].Error())
		}
	}
}

// sortResults restores the command line order
func sortResults(results []FileResult, files []string) {
	pos := make(map[string]int, len(files))
	for i, f := range files {
		pos[f] = i
	}
	ordered := make([]FileResult, len(results))
	for _, r := range results {
		ordered[pos[r.File]] = r
	}
	copy(results, ordered)
}

// collectFiles expands directories to the XML files they contain
func collectFiles(args []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !seen[arg] {
				seen[arg] = true
				files = append(files, arg)
			}
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.xml"))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
