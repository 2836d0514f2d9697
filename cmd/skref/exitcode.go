package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"skref/internal/config"
	"skref/internal/errors"
)

// Process exit codes. Callers branch on these, so they are stable.
const (
	exitOK          = 0
	exitInternal    = 1
	exitInput       = 2 // parse, patch or validation failure: fix and retry
	exitResolution  = 3
	exitConcurrency = 4 // retryable
	exitPromotion   = 5 // nothing was changed
)

// usageError marks bad flags or arguments.
type usageError struct {
	error
}

func (u usageError) Unwrap() error { return u.error }

// exitCode maps an error onto the exit code of its category.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ue usageError
	if stderrors.As(err, &ue) {
		return exitInput
	}
	var ce *config.ConfigError
	if stderrors.As(err, &ce) {
		return exitInput
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryParse, errors.CategoryPatch, errors.CategoryValidation:
		return exitInput
	case errors.CategoryResolution:
		return exitResolution
	case errors.CategoryConcurrency:
		return exitConcurrency
	case errors.CategoryPromotion:
		return exitPromotion
	default:
		return exitInternal
	}
}

// errorResponse is the JSON shape of a failed command.
type errorResponse struct {
	Error *errors.SkrefError `json:"error"`
	Exit  int                `json:"exitCode"`
}

// reportError writes err to w, as JSON when format asks for it.
func reportError(w io.Writer, err error, format OutputFormat) {
	if format == FormatJSON {
		se, ok := errors.As(err)
		if !ok {
			se = &errors.SkrefError{Code: errors.InternalError, Message: err.Error()}
			if exitCode(err) == exitInput {
				se.Code = errors.InvalidOperation
			}
		}
		data, mErr := json.MarshalIndent(errorResponse{Error: se, Exit: exitCode(err)}, "", "  ")
		if mErr == nil {
			fmt.Fprintln(w, string(data))
			return
		}
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	se, ok := errors.As(err)
	if !ok {
		return
	}
	if d, ok := se.Details.(errors.PatchDetails); ok {
		switch {
		case d.Action != "":
			fmt.Fprintf(w, "  operation #%d (%s)", d.OpIndex, d.Action)
			if d.Layer != "" {
				fmt.Fprintf(w, " in %s layer %s", d.Tier, d.Layer)
			}
			fmt.Fprintln(w)
		case d.Layer != "":
			// Layer-level errors such as conflicts have no operation.
			fmt.Fprintf(w, "  in %s layer %s\n", d.Tier, d.Layer)
		}
	}
	for _, fix := range se.SuggestedFixes {
		switch {
		case fix.Command != "":
			fmt.Fprintf(w, "  try: %s\n", fix.Command)
		case fix.Description != "":
			fmt.Fprintf(w, "  hint: %s\n", fix.Description)
		}
	}
}
