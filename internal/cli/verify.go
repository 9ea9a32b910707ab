package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/report"
	"github.com/slimatic/zakapp-sub004/internal/validator"
)

// CollectionCheck is the integrity verdict for one collection.
type CollectionCheck struct {
	Collection model.Collection `json:"collection"`
	Entities   int              `json:"entities"`
	Computed   string           `json:"computed"`
	OK         bool             `json:"ok"`
	Code       string           `json:"code,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	File          string            `json:"file"`
	SchemaVersion int64             `json:"schemaVersion"`
	AppVersion    string            `json:"appVersion,omitempty"`
	ExportedAt    string            `json:"exportedAt,omitempty"`
	Collections   []CollectionCheck `json:"collections"`
	Warnings      []string          `json:"warnings"`
	Valid         bool              `json:"valid"`
}

func (r VerifyResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (schema v%d)\n", r.File, r.SchemaVersion)
	for _, c := range r.Collections {
		status := "ok"
		if !c.OK {
			status = "FAIL " + c.Error
		}
		fmt.Fprintf(&b, "  %-13s %4d  %s\n", c.Collection, c.Entities, status)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if r.Valid {
		b.WriteString("✓ payload intact\n")
	}
	return b.String()
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a .zakapp.json file without importing it",
		Long: `Parse a payload and check its structure, checksums and ordering.
No database is opened.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, file, cmd)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "payload file to check (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runVerify(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	data, err := os.ReadFile(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	v, err := validator.New(validator.WithLogger(logger), validator.WithSchemaVersion(cfg.SchemaVersion))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build validator", err)
	}

	res, err := v.Validate(commandContext(cmd), data)
	if err != nil {
		_ = formatter.Error(report.Classify(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "payload rejected", err)
	}

	out := VerifyResult{
		File:          file,
		SchemaVersion: res.Payload.Metadata.SchemaVersion,
		AppVersion:    res.Payload.Metadata.AppVersion,
		ExportedAt:    res.Payload.Metadata.ExportedAt,
		Warnings:      res.Warnings,
		Valid:         res.OK(),
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, c := range model.AllCollections() {
		check := CollectionCheck{
			Collection: c,
			Entities:   len(res.Incoming[c]),
			Computed:   res.Computed.For(c),
			OK:         res.Trusted(c),
		}
		if err := res.Integrity[c]; err != nil {
			check.Code = report.Classify(err)
			check.Error = err.Error()
		}
		out.Collections = append(out.Collections, check)
	}

	if err := formatter.Success(out); err != nil {
		return err
	}
	if !out.Valid {
		return NewExitError(ExitFailure, "payload failed integrity checks")
	}
	return nil
}
