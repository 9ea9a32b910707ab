package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/exporter"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/report"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	UserID       string
	DecryptKey   string
	Consent      bool
	RecipientKey string
	ProfileFile  string
	Out          string
}

// ExportSummary describes a written export file.
type ExportSummary struct {
	Out       string                   `json:"out"`
	Counts    map[model.Collection]int `json:"counts"`
	Overall   string                   `json:"overall"`
	Warnings  []string                 `json:"warnings"`
	Decrypted bool                     `json:"decrypted"`
}

func (s ExportSummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exported to %s\n", s.Out)
	for _, c := range model.AllCollections() {
		fmt.Fprintf(&b, "  %-13s %d\n", c, s.Counts[c])
	}
	fmt.Fprintf(&b, "  overall       %s\n", s.Overall)
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's records to a .zakapp.json file",
		Long: `Export every asset, nisab record and payment owned by a user.

Sensitive fields stay encrypted unless --decrypt-key is given together with
--consent. With --recipient-key the decrypted fields are re-sealed for the
recipient instead of written in plaintext.

Example:
  zakapp export --db ./zakapp.db --user-id u-123 --out backup.zakapp.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "owner of the exported records (required)")
	cmd.Flags().StringVar(&opts.DecryptKey, "decrypt-key", "", "AES-256 key (hex, base64 or pass:<passphrase>) to decrypt sensitive fields")
	cmd.Flags().BoolVar(&opts.Consent, "consent", false, "confirm the user agreed to export sensitive fields")
	cmd.Flags().StringVar(&opts.RecipientKey, "recipient-key", "", "recipient public key to seal decrypted fields to")
	cmd.Flags().StringVar(&opts.ProfileFile, "profile", "", "JSON file with the profile object to embed")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	eopts, err := opts.exportOptions([]byte(cfg.KeySalt))
	if err != nil {
		_ = formatter.Error(report.CodeOptions, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid export options", err)
	}
	profile, err := readProfile(opts.ProfileFile)
	if err != nil {
		_ = formatter.Error(report.CodeOptions, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid profile", err)
	}
	h, err := cfg.Hasher()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid namespace", err)
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	a := exporter.NewAssembler(h, exporter.Config{AppVersion: cfg.AppVersion, SchemaVersion: cfg.SchemaVersion}, exporter.WithLogger(logger))
	res, err := a.Export(ctx, st, opts.UserID, profile, eopts)
	if errors.Is(err, exporter.ErrConsentRequired) || errors.Is(err, exporter.ErrKeyRequired) {
		_ = formatter.Error(report.CodeOptions, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid export options", err)
	}
	if err != nil {
		_ = formatter.Error(report.Classify(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "export failed", err)
	}
	data, err := exporter.Encode(res.Payload)
	if err != nil {
		return WrapExitError(ExitFailure, "encode export", err)
	}

	if opts.Out == "" {
		for _, w := range res.Warnings {
			logger.Warn(w)
		}
		_, err := cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}

	if err := os.WriteFile(opts.Out, data, 0o600); err != nil {
		return WrapExitError(ExitCommandError, "failed to write export", err)
	}
	summary := ExportSummary{
		Out:       opts.Out,
		Counts:    map[model.Collection]int{},
		Overall:   res.Payload.Checksums.Overall,
		Warnings:  res.Warnings,
		Decrypted: eopts.Decrypt,
	}
	for _, c := range model.AllCollections() {
		summary.Counts[c] = len(res.Payload.Entities(c))
	}
	return formatter.Success(summary)
}

func (o *ExportOptions) exportOptions(keySalt []byte) (exporter.Options, error) {
	eo := exporter.Options{Consent: o.Consent}
	if o.DecryptKey != "" {
		k, err := cryptox.ResolveKey(o.DecryptKey, keySalt)
		if err != nil {
			return eo, fmt.Errorf("--decrypt-key: %w", err)
		}
		eo.Decrypt = true
		eo.DecryptionKey = &k
	}
	if o.RecipientKey != "" {
		pk, err := cryptox.ParsePublicKey(o.RecipientKey)
		if err != nil {
			return eo, fmt.Errorf("--recipient-key: %w", err)
		}
		eo.RecipientPublicKey = &pk
	}
	return eo, nil
}

func readProfile(path string) (canon.Object, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := canon.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("profile %s: must be a JSON object", path)
	}
	return obj, nil
}
