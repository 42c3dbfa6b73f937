// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

// Package trackserv is the reference remote store for tracklite clients: a
// Postgres-backed row table with bulk idempotent upsert, bulk delete and a
// windowed delta select, all scoped to the owner carried in the request JWT.
//
// The service deliberately does not hide schema differences from clients: a
// deployment without the optional linkage columns answers requests naming
// them with the raw SQLSTATE, and the client adapts (capability
// degradation). Server-side guessing would mask which columns actually
// exist.
package trackserv

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RecordRow is the wire and storage representation of one tracked session.
// The linkage fields are optional columns; absent values stay nil and are
// omitted from both SQL and JSON.
type RecordRow struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	StartAt   int64           `json:"start_at"`
	EndAt     int64           `json:"end_at"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Notes     string          `json:"notes"`
	Steps     json.RawMessage `json:"steps,omitempty"`
	Planned   bool            `json:"planned"`

	RecurrenceID    *string `json:"recurrence_id,omitempty"`
	OccurrenceDate  *string `json:"occurrence_date,omitempty"`
	OriginalStartAt *int64  `json:"original_start_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// HasExtended reports whether the row carries any optional linkage column.
func (r *RecordRow) HasExtended() bool {
	return r.RecurrenceID != nil || r.OccurrenceDate != nil || r.OriginalStartAt != nil
}

// UpsertRequest is a bulk idempotent upsert by id.
type UpsertRequest struct {
	Rows []RecordRow `json:"rows"`
}

// AcceptedRow echoes the id and the timestamp the store accepted for one
// upserted row.
type AcceptedRow struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
}

// UpsertResponse lists the accepted rows in request order.
type UpsertResponse struct {
	Rows []AcceptedRow `json:"rows"`
}

// DeleteRequest is a bulk delete by id.
type DeleteRequest struct {
	IDs []string `json:"ids"`
}

// DeleteResponse reports how many rows the delete removed.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// DeltaResponse carries the rows updated inside the requested window.
type DeltaResponse struct {
	Records []RecordRow `json:"records"`
}

// ErrorResponse is the standardized error body. Code carries the Postgres
// SQLSTATE when the failure originated there, so clients can classify
// schema faults without sniffing prose.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ValidationError marks a request the store rejects before touching SQL.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// validateRow rejects rows that could never be stored: a non-UUID id (the
// delete path requires UUID ids) or a missing LWW timestamp.
func validateRow(row *RecordRow) error {
	if _, err := uuid.Parse(row.ID); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("id %q is not a valid UUID", row.ID)}
	}
	if row.UpdatedAt <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("row %s has no updated_at timestamp", row.ID)}
	}
	if row.Steps != nil {
		var steps []any
		if err := json.Unmarshal(row.Steps, &steps); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("row %s: steps is not a JSON array", row.ID)}
		}
	}
	return nil
}
