package pipeline

import "errors"

// ErrInvalidInput marks a malformed request descriptor. It aborts only the
// pipeline run for that request; the underlying call is never affected.
var ErrInvalidInput = errors.New("invalid input")

// Diagnostic flags attached to degraded DecisionBundles. They let
// observability layers tell "normal" from "degraded-normal" without
// changing the caller's control flow.
const (
	// FlagInsufficientData marks a bundle scored with fewer samples than the
	// detector's minimum. Not an error: anomaly score is 0 by construction.
	FlagInsufficientData = "insufficient-data"

	// FlagStatisticalOnly marks a bundle scored without the ensemble
	// (forest not yet built or rebuild in progress).
	FlagStatisticalOnly = "statistical-only"

	// FlagColdStart marks a prediction served from the configured default
	// because the endpoint has no history.
	FlagColdStart = "cold-start"

	// FlagDegraded marks a bundle produced by the fail-open path after an
	// internal fault.
	FlagDegraded = "degraded"
)
