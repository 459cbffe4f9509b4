package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/backend"
)

// CatalogIssue is one problem found in a catalog file.
type CatalogIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool           `json:"valid"`
	Merchandise int            `json:"merchandise,omitempty"`
	Discounts   int            `json:"discounts,omitempty"`
	GiftCards   int            `json:"gift_cards,omitempty"`
	Errors      []CatalogIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog.cue>",
		Short: "Validate a CUE catalog",
		Long: `Validate a CUE catalog file for the reference backend.

Checks CUE syntax and field shapes, then the catalog rules: a three-letter
currency, non-negative prices and balances, discounts between 1 and 100
percent, gift card codes of at least four characters, and at least one
merchandise entry. Every violation is reported, not just the first.

Examples:
  cartsync validate ./catalog.cue
  cartsync validate ./catalog.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	src, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("catalog not found: %s", path)
		_ = out.Error(ErrCodeCommand, msg, nil)
		return WrapExitError(ExitCommandError, msg, err)
	}
	out.VerboseLog("Read %d bytes from %s", len(src), path)

	c, err := backend.CompileCatalog(cuecontext.New().CompileBytes(src, cue.Filename(path)))
	if err != nil {
		return outputValidationErrors(out, []CatalogIssue{compileIssue(err)})
	}
	out.VerboseLog("Compiled %d merchandise, %d discounts, %d gift cards",
		len(c.Merchandise), len(c.Discounts), len(c.GiftCards))

	if verrs := backend.ValidateCatalog(c); len(verrs) > 0 {
		issues := make([]CatalogIssue, len(verrs))
		for i, e := range verrs {
			issues[i] = CatalogIssue{Field: e.Field, Message: e.Message, Code: e.Code}
		}
		return outputValidationErrors(out, issues)
	}

	result := ValidationResult{
		Valid:       true,
		Merchandise: len(c.Merchandise),
		Discounts:   len(c.Discounts),
		GiftCards:   len(c.GiftCards),
	}
	if out.JSON() {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "✓ Catalog valid (%d merchandise, %d discounts, %d gift cards)\n",
		result.Merchandise, result.Discounts, result.GiftCards)
	return nil
}

func compileIssue(err error) CatalogIssue {
	var cErr *backend.CompileError
	if errors.As(err, &cErr) {
		issue := CatalogIssue{Field: cErr.Field, Message: cErr.Message, Code: backend.ErrCatalogSyntax}
		if cErr.Pos.IsValid() {
			issue.Line = cErr.Pos.Line()
		}
		return issue
	}
	return CatalogIssue{Field: "catalog", Message: err.Error(), Code: backend.ErrCatalogSyntax}
}

func outputValidationErrors(out *OutputFormatter, issues []CatalogIssue) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if out.JSON() {
		if err := out.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error:  &CLIError{Code: ErrCodeCatalogInvalid, Message: exitErr.Message},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(out.Writer, "✗ Validation failed")
	fmt.Fprintln(out.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(out.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(out.Writer, "  %s %s: %s\n\n", issue.Code, issue.Field, issue.Message)
	}
	return exitErr
}
