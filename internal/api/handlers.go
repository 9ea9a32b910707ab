package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/exporter"
	"github.com/slimatic/zakapp-sub004/internal/importer"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/report"
)

func withUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type exportRequest struct {
	Key                string          `json:"key"`
	Consent            bool            `json:"consent"`
	RecipientPublicKey string          `json:"recipientPublicKey"`
	Profile            json.RawMessage `json:"profile"`
}

type exportResponse struct {
	Payload  json.RawMessage `json:"payload"`
	Warnings []string        `json:"warnings"`
}

// handleExport serves POST /api/export[?decrypt=true].
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	decrypt, err := queryBool(r, "decrypt")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	opts := exporter.Options{Decrypt: decrypt, Consent: req.Consent}
	if req.Key != "" {
		k, err := cryptox.ResolveKey(req.Key, h.keySalt)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "invalid key: "+err.Error())
			return
		}
		opts.DecryptionKey = &k
	}
	if req.RecipientPublicKey != "" {
		pk, err := cryptox.ParsePublicKey(req.RecipientPublicKey)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "invalid recipient key: "+err.Error())
			return
		}
		opts.RecipientPublicKey = &pk
	}

	var profile canon.Object
	if len(req.Profile) > 0 && string(req.Profile) != "null" {
		v, err := canon.Parse(req.Profile)
		obj, ok := v.(canon.Object)
		if err != nil || !ok {
			h.respondWithError(w, http.StatusBadRequest, "profile must be a JSON object")
			return
		}
		profile = obj
	}

	res, err := h.assembler.Export(r.Context(), h.store, userFrom(r.Context()), profile, opts)
	switch {
	case errors.Is(err, exporter.ErrConsentRequired):
		h.respondWithError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, exporter.ErrKeyRequired):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("export failed", "error", err)
		h.respondWithError(w, http.StatusInternalServerError, "export failed")
		return
	}

	data, err := exporter.Encode(res.Payload)
	if err != nil {
		h.logger.Error("encode export", "error", err)
		h.respondWithError(w, http.StatusInternalServerError, "export failed")
		return
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	h.respondWithJSON(w, http.StatusOK, exportResponse{Payload: data, Warnings: warnings})
}

type importQuery struct {
	Strategy   string `validate:"omitempty,oneof=skip update merge reassign"`
	DryRun     bool
	ReassignTo string
	Consent    bool
	Atomicity  string   `validate:"omitempty,oneof=collection account"`
	Resume     []string `validate:"dive,required"`
}

func parseImportQuery(r *http.Request) (importQuery, error) {
	q := r.URL.Query()
	iq := importQuery{
		Strategy:   strings.ToLower(strings.TrimSpace(q.Get("strategy"))),
		ReassignTo: q.Get("reassignTo"),
		Atomicity:  q.Get("atomicity"),
		Resume:     q["resume"],
	}
	var err error
	if iq.DryRun, err = queryBool(r, "dryRun"); err != nil {
		return iq, err
	}
	if iq.Consent, err = queryBool(r, "consent"); err != nil {
		return iq, err
	}
	return iq, nil
}

// handleImport serves POST /api/import. The body is the payload file.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	iq, err := parseImportQuery(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(iq); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.respondWithError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	mode := h.atomicity
	if iq.Atomicity != "" {
		mode = commit.Mode(iq.Atomicity)
	}
	rep, err := h.importer.Import(r.Context(), h.store, data, importer.Options{
		OwnerID:    userFrom(r.Context()),
		Strategy:   reconcile.Strategy(iq.Strategy),
		DryRun:     iq.DryRun,
		ReassignTo: iq.ReassignTo,
		Consent:    iq.Consent,
		Atomicity:  mode,
		Parallel:   h.parallel,
		ResumeFrom: iq.Resume,
	})
	if err != nil {
		h.respondWithJSON(w, importStatus(rep, err), rep)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rep)
}

// importStatus maps an aborted import to an HTTP status.
func importStatus(rep *report.ImportReport, err error) int {
	code := report.Classify(err)
	if rep != nil && len(rep.Errors) > 0 {
		code = rep.Errors[0].Code
	}
	switch code {
	case report.CodeOptions:
		if errors.Is(err, importer.ErrConsentRequired) {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case report.CodeMalformed, report.CodeResumeToken:
		return http.StatusBadRequest
	case report.CodeSchema:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("query %s: %q is not a boolean", name, v)
	}
	return b, nil
}
