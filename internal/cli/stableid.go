package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/identity"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/report"
)

// StableIDResult is the output of the stableid command.
type StableIDResult struct {
	EntityType model.EntityType `json:"entityType"`
	Namespace  string           `json:"namespace"`
	Basis      string           `json:"basis"`
	StableID   string           `json:"stableId"`
	Declared   string           `json:"declared,omitempty"`
	Drifted    bool             `json:"drifted"`
}

func (r StableIDResult) Text() string {
	s := r.StableID + "\n"
	if r.Drifted {
		s += fmt.Sprintf("declared stableId %s differs\n", r.Declared)
	}
	return s
}

// NewStableIDCommand creates the stableid command.
func NewStableIDCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "stableid <asset|nisabRecord|payment> <json>",
		Short: "Compute the stableId of an entity",
		Long: `Print the stableId an entity's unique-key fields produce.

A nisab record without ownerFingerprint gets one from --user-id and the
configured fingerprint salt.

Example:
  zakapp stableid asset '{"type":"Cash","name":"Savings"}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStableID(rootOpts, args[0], args[1], userID, cmd)
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "owner used to fill a nisab record's ownerFingerprint")

	return cmd
}

func runStableID(opts *RootOptions, typ, raw, userID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c := model.EntityType(typ).Collection()
	if c == "" {
		err := fmt.Errorf("unknown entity type %q", typ)
		_ = formatter.Error(report.CodeOptions, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}
	v, err := canon.Parse([]byte(raw))
	if err != nil {
		_ = formatter.Error(report.CodeMalformed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid entity JSON", err)
	}
	obj, ok := v.(canon.Object)
	if !ok {
		err := fmt.Errorf("entity must be a JSON object")
		_ = formatter.Error(report.CodeMalformed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid entity JSON", err)
	}
	e, _, err := model.FromObject(c, obj)
	if err != nil {
		_ = formatter.Error(report.CodeDecode, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid entity", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if n, ok := e.(*model.NisabRecord); ok && n.OwnerFingerprint == "" && userID != "" {
		n.OwnerFingerprint = identity.OwnerFingerprint(cfg.FingerprintSalt, userID)
	}
	h, err := cfg.Hasher()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid namespace", err)
	}

	declared := e.Base().StableID
	derived, drifted := h.Assign(e)
	return formatter.Success(StableIDResult{
		EntityType: e.EntityType(),
		Namespace:  h.Namespace(),
		Basis:      e.KeyBasis(),
		StableID:   derived,
		Declared:   declared,
		Drifted:    drifted,
	})
}
