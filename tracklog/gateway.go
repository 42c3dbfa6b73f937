// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Capabilities tracks which optional columns the remote schema is believed
// to carry. Flags default to optimistic and are flipped off (and persisted)
// the first time the remote store rejects a request over them.
type Capabilities struct {
	// ExtendedColumns covers the whole optional linkage column set:
	// recurrence_id, occurrence_date and original_start_at.
	ExtendedColumns bool `json:"extended_columns"`
	// RecurrenceLinks covers only the recurrence_id foreign key. It can be
	// unusable (missing recurrence-rule rows) even when the columns exist.
	RecurrenceLinks bool `json:"recurrence_links"`
}

// DefaultCapabilities assumes the full remote column set.
func DefaultCapabilities() Capabilities {
	return Capabilities{ExtendedColumns: true, RecurrenceLinks: true}
}

// ErrorKind classifies a remote fault for retry decisions. The string
// sniffing needed when the store only returns prose lives in exactly one
// place, classifyRemoteError.
type ErrorKind int

const (
	// ErrorKindTransient covers network and server errors; pending state is
	// left untouched and retried on the next flush or sync pass.
	ErrorKindTransient ErrorKind = iota
	// ErrorKindMissingColumn means the remote schema lacks an optional
	// column; the request is retried once with the optional columns stripped
	// and the capability flag is persisted off.
	ErrorKindMissingColumn
	// ErrorKindForeignKey means a recurrence-rule reference was rejected;
	// the request is retried once with only the recurrence linkage stripped.
	ErrorKindForeignKey
	// ErrorKindConflict means another writer already applied the same row;
	// the error is swallowed and pending state clears as on success.
	ErrorKindConflict
)

// RemoteError is a classified fault returned by the remote store.
type RemoteError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string // SQLSTATE when the store provides one
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote store error (status %d, code %q): %s", e.StatusCode, e.Code, e.Message)
}

// AcceptedRow echoes the identifier and the timestamp the remote store
// actually accepted for an upserted row. Subsequent merges must compare
// against this value, not the local clock.
type AcceptedRow struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
}

type wireError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type deltaResponse struct {
	Records json.RawMessage `json:"records"`
}

type upsertRequest struct {
	Rows []map[string]any `json:"rows"`
}

type upsertResponse struct {
	Rows []AcceptedRow `json:"rows"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// Gateway performs the network calls against the remote row store. It owns
// no local state beyond the HTTP plumbing; capability flags are passed in
// and handed back so the session can persist changes.
type Gateway struct {
	BaseURL string
	HTTP    *http.Client
	// Token returns the bearer token for the current owner. All remote calls
	// are scoped server-side to the token's subject.
	Token func(ctx context.Context) (string, error)
}

// FetchDelta returns the remote rows updated at or after since. Rows are run
// through the sanitizer, so a foreign-shaped response degrades to omission.
func (g *Gateway) FetchDelta(ctx context.Context, since int64) ([]Record, error) {
	url := fmt.Sprintf("%s/v1/records?since=%d", g.BaseURL, since)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create delta request: %w", err)
	}
	body, err := g.send(req)
	if err != nil {
		return nil, err
	}
	var resp deltaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode delta response: %w", err)
	}
	return SanitizeRecords([]byte(resp.Records)), nil
}

// UpsertBatch pushes pending records to the remote store, degrading the
// column set when the schema turns out to be older than assumed:
//
//   - a missing-column fault flips ExtendedColumns off and retries once with
//     all optional columns stripped;
//   - a recurrence foreign-key fault retries once with only recurrence_id
//     stripped, preserving the other optional columns;
//   - a duplicate-key conflict is a benign race and counts as success.
//
// The possibly-degraded capabilities are returned so the caller can persist
// them for future sessions.
func (g *Gateway) UpsertBatch(ctx context.Context, rows []Record, caps Capabilities) ([]AcceptedRow, Capabilities, error) {
	if len(rows) == 0 {
		return nil, caps, nil
	}

	accepted, err := g.sendUpsert(ctx, rows, caps)
	if err == nil {
		return accepted, caps, nil
	}

	remoteErr, ok := asRemoteError(err)
	if !ok {
		return nil, caps, err
	}

	switch remoteErr.Kind {
	case ErrorKindMissingColumn:
		caps.ExtendedColumns = false
		caps.RecurrenceLinks = false
		accepted, err = g.sendUpsert(ctx, rows, caps)
	case ErrorKindForeignKey:
		retryCaps := caps
		retryCaps.RecurrenceLinks = false
		accepted, err = g.sendUpsert(ctx, rows, retryCaps)
	case ErrorKindConflict:
		return acceptedFromRows(rows), caps, nil
	default:
		return nil, caps, err
	}

	if err != nil {
		if retryErr, ok := asRemoteError(err); ok && retryErr.Kind == ErrorKindConflict {
			return acceptedFromRows(rows), caps, nil
		}
		return nil, caps, err
	}
	return accepted, caps, nil
}

// DeleteBatch deletes rows by id on the remote store. Only syntactically
// valid UUIDs are eligible for the network call; local-only identifiers that
// never reached UUID form are returned as purged so the caller can drop them
// from the pending set without a round trip. A conflict response is treated
// as already-deleted.
func (g *Gateway) DeleteBatch(ctx context.Context, ids []string) (deleted, purged []string, err error) {
	for _, id := range ids {
		if _, parseErr := uuid.Parse(id); parseErr != nil {
			purged = append(purged, id)
			continue
		}
		deleted = append(deleted, id)
	}
	if len(deleted) == 0 {
		return nil, purged, nil
	}

	payload, err := json.Marshal(deleteRequest{IDs: deleted})
	if err != nil {
		return nil, purged, fmt.Errorf("failed to marshal delete request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/records/delete", bytes.NewReader(payload))
	if err != nil {
		return nil, purged, fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := g.send(req); err != nil {
		if remoteErr, ok := asRemoteError(err); ok && remoteErr.Kind == ErrorKindConflict {
			return deleted, purged, nil
		}
		return nil, purged, err
	}
	return deleted, purged, nil
}

func (g *Gateway) sendUpsert(ctx context.Context, rows []Record, caps Capabilities) ([]AcceptedRow, error) {
	wireRows := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		wireRows = append(wireRows, toWireRow(r, caps))
	}
	payload, err := json.Marshal(upsertRequest{Rows: wireRows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upsert request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/records/upsert", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := g.send(req)
	if err != nil {
		return nil, err
	}
	var resp upsertResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode upsert response: %w", err)
	}
	return resp.Rows, nil
}

func (g *Gateway) send(req *http.Request) ([]byte, error) {
	token, err := g.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to obtain auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := g.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &RemoteError{Kind: ErrorKindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Kind: ErrorKindTransient, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyRemoteError(resp.StatusCode, body)
	}
	return body, nil
}

// toWireRow serializes a record for upload, omitting sync metadata and any
// optional columns the remote schema is believed not to carry.
func toWireRow(r Record, caps Capabilities) map[string]any {
	row := map[string]any{
		"id":         r.ID,
		"label":      r.Label,
		"start_at":   r.StartAt,
		"end_at":     r.EndAt,
		"elapsed_ms": r.ElapsedMS,
		"notes":      r.Notes,
		"planned":    r.Planned,
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
	}
	if r.Steps != nil {
		row["steps"] = r.Steps
	}
	if caps.ExtendedColumns {
		if caps.RecurrenceLinks && r.RecurrenceID != nil {
			row["recurrence_id"] = *r.RecurrenceID
		}
		if r.OccurrenceDate != nil {
			row["occurrence_date"] = *r.OccurrenceDate
		}
		if r.OriginalStartAt != nil {
			row["original_start_at"] = *r.OriginalStartAt
		}
	}
	return row
}

func acceptedFromRows(rows []Record) []AcceptedRow {
	out := make([]AcceptedRow, len(rows))
	for i, r := range rows {
		out[i] = AcceptedRow{ID: r.ID, UpdatedAt: r.UpdatedAt}
	}
	return out
}

func asRemoteError(err error) (*RemoteError, bool) {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr, true
	}
	return nil, false
}

// classifyRemoteError maps a non-200 response to a typed RemoteError. The
// SQLSTATE code in the error body is authoritative; prose sniffing is the
// fallback for stores that only return a message.
func classifyRemoteError(status int, body []byte) *RemoteError {
	var we wireError
	_ = json.Unmarshal(body, &we)

	e := &RemoteError{Kind: ErrorKindTransient, StatusCode: status, Code: we.Code, Message: we.Message}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}

	switch we.Code {
	case "42703": // undefined_column
		e.Kind = ErrorKindMissingColumn
		return e
	case "23503": // foreign_key_violation
		e.Kind = ErrorKindForeignKey
		return e
	case "23505": // unique_violation
		e.Kind = ErrorKindConflict
		return e
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "column") && strings.Contains(msg, "does not exist"):
		e.Kind = ErrorKindMissingColumn
	case strings.Contains(msg, "violates foreign key"):
		e.Kind = ErrorKindForeignKey
	case strings.Contains(msg, "duplicate key"):
		e.Kind = ErrorKindConflict
	}
	return e
}
