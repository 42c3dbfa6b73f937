// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

// Package tracklog implements the offline-first core of tracklite: a local
// replica of tracked time sessions that reconciles with a single remote
// row store using last-writer-wins timestamps.
//
// All local state lives in a SQLite-backed Store; the remote store is only
// ever reached through the Gateway. A SyncSession ties the pieces together
// and owns the mutable sync state (capability flags, debounce timer,
// in-flight sync guard) so independent sessions never share state.
package tracklog

import (
	"sort"
	"time"
)

// PendingAction is a record's outstanding obligation toward the remote store.
type PendingAction string

const (
	// PendingNone means the record is in sync with the remote store.
	PendingNone PendingAction = ""
	// PendingUpsert means the record was created or edited locally and must
	// be pushed to the remote store.
	PendingUpsert PendingAction = "upsert"
	// PendingDelete means the record was removed from the active set locally
	// and the remote deletion has not been confirmed yet. The record stays in
	// the local store (hidden from active views) until it is.
	PendingDelete PendingAction = "delete"
)

// Difficulty rates a single step of a session. Unknown values decode as
// DifficultyNone.
type Difficulty string

const (
	DifficultyNone   Difficulty = "none"
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Step is an ordered sub-item of a session.
type Step struct {
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty"`
	Done       bool       `json:"done"`
	SortOrder  int        `json:"sort_order"`
}

// Record is a single logged or planned time session together with its sync
// metadata. Content fields are compared by ContentEqual; sync metadata
// (CreatedAt, UpdatedAt, Pending) never reaches the UI.
//
// Invariants: StartAt and EndAt are snapped to whole minutes and
// ElapsedMS == max(0, EndAt-StartAt), so local and remote copies of the same
// session compare equal field for field.
type Record struct {
	ID    string `json:"id"`
	Label string `json:"label"`

	StartAt   int64  `json:"start_at"` // unix milliseconds, minute-snapped
	EndAt     int64  `json:"end_at"`   // unix milliseconds, minute-snapped
	ElapsedMS int64  `json:"elapsed_ms"`
	Notes     string `json:"notes,omitempty"`
	Steps     []Step `json:"steps,omitempty"`

	// Optional linkage to a recurring schedule. The remote schema may not
	// carry these columns; see Capabilities.
	RecurrenceID    *string `json:"recurrence_id,omitempty"`
	OccurrenceDate  *string `json:"occurrence_date,omitempty"` // YYYY-MM-DD
	OriginalStartAt *int64  `json:"original_start_at,omitempty"`

	// Planned marks a future session rather than a completed one. It is
	// re-evaluated on every read and merge because "the future" moves.
	Planned bool `json:"planned"`

	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
	Pending   PendingAction `json:"pending,omitempty"`
}

// SnapToMinute rounds a unix-millisecond timestamp to the nearest whole
// minute. Both the local replica and the remote store snap independently, so
// timestamps survive round trips bit-for-bit and ties in the merge are exact.
func SnapToMinute(ms int64) int64 {
	const minute = int64(time.Minute / time.Millisecond)
	if ms >= 0 {
		return ((ms + minute/2) / minute) * minute
	}
	return -((-ms + minute/2) / minute) * minute
}

// Normalize snaps the record's time range, restores the elapsed-time
// invariant and renumbers step sort keys to dense positions. It mutates the
// receiver copy and returns it for chaining.
func (r Record) Normalize() Record {
	r.StartAt = SnapToMinute(r.StartAt)
	r.EndAt = SnapToMinute(r.EndAt)
	r.ElapsedMS = r.EndAt - r.StartAt
	if r.ElapsedMS < 0 {
		r.ElapsedMS = 0
	}
	r.Steps = normalizeSteps(r.Steps)
	return r
}

// normalizeSteps orders steps by their sort key and rewrites the keys to
// 0..n-1. Gapped keys (5, 10, ...) would otherwise never compare equal to
// their own stored copy, and every identical save would look like an edit.
func normalizeSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	for i := range out {
		out[i].SortOrder = i
	}
	return out
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Steps != nil {
		out.Steps = make([]Step, len(r.Steps))
		copy(out.Steps, r.Steps)
	}
	if r.RecurrenceID != nil {
		v := *r.RecurrenceID
		out.RecurrenceID = &v
	}
	if r.OccurrenceDate != nil {
		v := *r.OccurrenceDate
		out.OccurrenceDate = &v
	}
	if r.OriginalStartAt != nil {
		v := *r.OriginalStartAt
		out.OriginalStartAt = &v
	}
	return out
}

// ContentEqual reports whether two records carry identical content, ignoring
// sync metadata. Saving unchanged content must not bump UpdatedAt or set a
// pending action, so this comparison gates every local write.
func ContentEqual(a, b Record) bool {
	if a.ID != b.ID || a.Label != b.Label ||
		a.StartAt != b.StartAt || a.EndAt != b.EndAt ||
		a.ElapsedMS != b.ElapsedMS || a.Notes != b.Notes ||
		a.Planned != b.Planned {
		return false
	}
	if len(a.Steps) != len(b.Steps) {
		return false
	}
	for i := range a.Steps {
		if a.Steps[i] != b.Steps[i] {
			return false
		}
	}
	return strPtrEqual(a.RecurrenceID, b.RecurrenceID) &&
		strPtrEqual(a.OccurrenceDate, b.OccurrenceDate) &&
		int64PtrEqual(a.OriginalStartAt, b.OriginalStartAt)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ReclassifyPlanned re-evaluates the planned flag of every record against the
// given wall clock. A record whose start moved into the past (or future) gets
// its flag flipped and is marked pending-upsert so the change propagates to
// the remote store. Unaffected records are returned untouched, so calling
// this twice with the same clock flips each record at most once.
func ReclassifyPlanned(records []Record, now int64) ([]Record, bool) {
	changed := false
	out := records
	for i := range records {
		if records[i].Pending == PendingDelete {
			continue
		}
		planned := records[i].StartAt > now
		if planned == records[i].Planned {
			continue
		}
		if !changed {
			out = make([]Record, len(records))
			copy(out, records)
			changed = true
		}
		r := out[i].Clone()
		r.Planned = planned
		r.Pending = PendingUpsert
		r.UpdatedAt = now
		out[i] = r
	}
	return out, changed
}

// ActiveSet filters out records whose deletion is still pending. UI consumers
// only ever see the active set.
func ActiveSet(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Pending != PendingDelete {
			out = append(out, r)
		}
	}
	return out
}
