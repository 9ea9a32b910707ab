package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/importer"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/report"
	"github.com/slimatic/zakapp-sub004/internal/validator"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	File       string
	UserID     string
	Strategy   string
	DryRun     bool
	Rekey      string
	ReassignTo string
	Consent    bool
	Atomicity  string
	Parallel   bool
	Resume     []string

	// RunIDs overrides the run id generator (for testing).
	RunIDs importer.RunIDGenerator
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a .zakapp.json file for a user",
		Long: `Validate a .zakapp.json file and apply it to the user's records.

Entities are matched to existing records by stableId. The strategy decides
what happens on a match: skip leaves the record alone, update replaces it,
merge fills only empty fields, and reassign moves the record to another
owner (--reassign-to, requires --consent).

Each collection commits on its own unless --atomicity=account. A rolled
back collection reports a resume token; pass it back with --resume and
the same file to retry that collection with the same strategy.

Example:
  zakapp import --db ./zakapp.db --user-id u-123 --file backup.zakapp.json --strategy merge
  zakapp import --user-id u-123 --file backup.zakapp.json --resume payments=<token>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "payload file to import (required)")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "owner the records are imported for (required)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "skip", "conflict strategy (skip|update|merge|reassign)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "reconcile and report without writing")
	cmd.Flags().StringVar(&opts.Rekey, "rekey", "", "re-encrypt fields: previous-key,target-key, each hex, base64 or pass:<passphrase> (requires --consent)")
	cmd.Flags().StringVar(&opts.ReassignTo, "reassign-to", "", "target owner for --strategy=reassign")
	cmd.Flags().BoolVar(&opts.Consent, "consent", false, "confirm the user agreed to rekey or reassign")
	cmd.Flags().StringVar(&opts.Atomicity, "atomicity", "", "commit granularity (collection|account), default from config")
	cmd.Flags().BoolVar(&opts.Parallel, "parallel", false, "process collections concurrently")
	cmd.Flags().StringArrayVar(&opts.Resume, "resume", nil, "resume token, optionally as collection=token (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	iopts, err := opts.importOptions([]byte(cfg.KeySalt))
	if err != nil {
		_ = formatter.Error(report.CodeOptions, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid import options", err)
	}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}
	if opts.Atomicity == "" {
		iopts.Atomicity = cfg.Mode()
	}
	iopts.Parallel = iopts.Parallel || cfg.ParallelCollections

	h, err := cfg.Hasher()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid namespace", err)
	}
	v, err := validator.New(validator.WithLogger(logger), validator.WithSchemaVersion(cfg.SchemaVersion))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build validator", err)
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	coord := commit.New(reconcile.New(h, reconcile.WithLogger(logger)), commit.WithLogger(logger))
	imOpts := []importer.Option{importer.WithLogger(logger)}
	if opts.RunIDs != nil {
		imOpts = append(imOpts, importer.WithRunIDs(opts.RunIDs))
	}
	rep, err := importer.New(v, coord, imOpts...).Import(ctx, st, data, iopts)
	if err != nil {
		code := report.Classify(err)
		if len(rep.Errors) > 0 {
			code = rep.Errors[0].Code
		}
		_ = formatter.Error(code, err.Error(), rep)
		return WrapExitError(ExitCommandError, "import aborted", err)
	}

	if err := formatter.Success(importSummary{rep}); err != nil {
		return err
	}
	if !rep.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("import finished with %d error(s)", len(rep.Errors)))
	}
	return nil
}

func (o *ImportOptions) importOptions(keySalt []byte) (importer.Options, error) {
	strategy, err := reconcile.ParseStrategy(o.Strategy)
	if err != nil {
		return importer.Options{}, err
	}
	out := importer.Options{
		OwnerID:    o.UserID,
		Strategy:   strategy,
		DryRun:     o.DryRun,
		ReassignTo: o.ReassignTo,
		Consent:    o.Consent,
		Parallel:   o.Parallel,
	}
	if o.Atomicity != "" {
		if out.Atomicity, err = commit.ParseMode(o.Atomicity); err != nil {
			return out, err
		}
	}
	if o.Rekey != "" {
		prev, target, err := parseRekey(o.Rekey, keySalt)
		if err != nil {
			return out, err
		}
		out.PreviousKey, out.TargetKey = &prev, &target
	}
	for _, r := range o.Resume {
		tok, err := resumeToken(r)
		if err != nil {
			return out, err
		}
		out.ResumeFrom = append(out.ResumeFrom, tok)
	}
	return out, nil
}

// parseRekey splits "previous,target"; either key may be a passphrase.
func parseRekey(s string, keySalt []byte) (prev, target cryptox.Key, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return prev, target, fmt.Errorf("--rekey wants previous,target")
	}
	if prev, err = cryptox.ResolveKey(parts[0], keySalt); err != nil {
		return prev, target, fmt.Errorf("--rekey previous key: %w", err)
	}
	if target, err = cryptox.ResolveKey(parts[1], keySalt); err != nil {
		return prev, target, fmt.Errorf("--rekey target key: %w", err)
	}
	return prev, target, nil
}

// resumeToken accepts "token" or "collection=token"; in the second form
// the collection must match the one the token encodes.
func resumeToken(s string) (string, error) {
	name, tok, found := strings.Cut(s, "=")
	if !found {
		return s, nil
	}
	c, err := model.ParseCollection(name)
	if err != nil {
		return "", fmt.Errorf("--resume: %w", err)
	}
	parsed, err := commit.ParseToken(tok)
	if err != nil {
		return "", fmt.Errorf("--resume: %w", err)
	}
	if parsed.Collection != c {
		return "", fmt.Errorf("--resume: token is for %s, not %s", parsed.Collection, c)
	}
	return tok, nil
}

type importSummary struct {
	*report.ImportReport
}

func (s importSummary) Text() string {
	var b strings.Builder
	mode := "Imported"
	if s.DryRun {
		mode = "Dry run"
	}
	fmt.Fprintf(&b, "%s (run %s, strategy %s)\n", mode, s.RunID, s.Strategy)
	for _, c := range model.AllCollections() {
		n := s.Summary[c]
		fmt.Fprintf(&b, "  %-13s %-10s imported=%d skipped=%d updated=%d failed=%d\n",
			c, s.Collections[c], n.Imported, n.Skipped, n.Updated, n.Failed)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "error [%s] %s\n", e.Code, e.Message)
	}
	for _, c := range model.AllCollections() {
		if tok, ok := s.ResumeTokens[c]; ok {
			fmt.Fprintf(&b, "resume: --resume %s=%s\n", c, tok)
		}
	}
	return b.String()
}
