// Package parser extracts typed readings from the raw documents published by
// upstream hydrology services: tabular flow PDFs and level/temperature CSV
// pairs. Each parser turns a byte payload into a models.ParsedSeries.
package parser

import "errors"

// ErrMalformedDocument marks a structural problem with a source document:
// wrong page count, no extractable table, or an unusable current-reading row.
var ErrMalformedDocument = errors.New("malformed document")

// ErrNoValidReadings marks a document that is structurally parseable but
// yields zero usable samples after per-row recovery.
var ErrNoValidReadings = errors.New("no valid readings")
