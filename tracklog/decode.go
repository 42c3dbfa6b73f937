// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// DecodeError describes why a raw entry could not be decoded into a Record.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record: field %q: %s", e.Field, e.Reason)
}

// DecodeRecord coerces one arbitrarily-shaped value (typically a
// map[string]any produced by encoding/json) into a canonical Record. It is
// total: it never panics, and it returns a *DecodeError instead of guessing
// when a required field is missing or unusable. Optional fields degrade to
// safe defaults rather than failing the whole record.
func DecodeRecord(raw any) (Record, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Record{}, &DecodeError{Field: "", Reason: "entry is not an object"}
	}

	id, ok := decodeString(m["id"])
	if !ok || id == "" {
		return Record{}, &DecodeError{Field: "id", Reason: "missing or empty"}
	}
	startAt, ok := decodeInt64(m["start_at"])
	if !ok {
		return Record{}, &DecodeError{Field: "start_at", Reason: "missing or not a finite number"}
	}
	endAt, ok := decodeInt64(m["end_at"])
	if !ok {
		return Record{}, &DecodeError{Field: "end_at", Reason: "missing or not a finite number"}
	}

	r := Record{
		ID:      id,
		StartAt: startAt,
		EndAt:   endAt,
	}
	r.Label, _ = decodeString(m["label"])
	r.Notes, _ = decodeString(m["notes"])
	r.Planned = decodeBool(m["planned"])
	r.Steps = decodeSteps(m["steps"])

	if v, ok := decodeString(m["recurrence_id"]); ok && v != "" {
		r.RecurrenceID = &v
	}
	if v, ok := decodeString(m["occurrence_date"]); ok && v != "" {
		r.OccurrenceDate = &v
	}
	if v, ok := decodeInt64(m["original_start_at"]); ok {
		r.OriginalStartAt = &v
	}

	if v, ok := decodeInt64(m["created_at"]); ok {
		r.CreatedAt = v
	}
	if v, ok := decodeInt64(m["updated_at"]); ok {
		r.UpdatedAt = v
	}
	switch pa, _ := decodeString(m["pending"]); PendingAction(pa) {
	case PendingUpsert:
		r.Pending = PendingUpsert
	case PendingDelete:
		r.Pending = PendingDelete
	default:
		r.Pending = PendingNone
	}

	// Snapping and the elapsed invariant are re-established on every decode
	// so legacy entries with drifting precision converge to canonical form.
	return r.Normalize(), nil
}

// SanitizeRecords coerces an arbitrary value (a decoded JSON array, a raw
// JSON document, or anything else) into the set of records it can salvage.
// Malformed entries are dropped one by one; the call itself never fails.
func SanitizeRecords(raw any) []Record {
	switch v := raw.(type) {
	case nil:
		return []Record{}
	case []byte:
		var parsed any
		if err := json.Unmarshal(v, &parsed); err != nil {
			return []Record{}
		}
		return SanitizeRecords(parsed)
	case json.RawMessage:
		return SanitizeRecords([]byte(v))
	case []Record:
		out := make([]Record, 0, len(v))
		for _, r := range v {
			if r.ID == "" {
				continue
			}
			out = append(out, r.Normalize())
		}
		return out
	case []any:
		out := make([]Record, 0, len(v))
		for _, entry := range v {
			r, err := DecodeRecord(entry)
			if err != nil {
				continue
			}
			out = append(out, r)
		}
		return out
	default:
		return []Record{}
	}
}

func decodeString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func decodeBool(v any) bool {
	b, ok := v.(bool)
	if !ok {
		return false
	}
	return b
}

// decodeInt64 accepts the numeric shapes encoding/json may produce plus
// already-typed integers. Non-finite floats are rejected.
func decodeInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func decodeDifficulty(v any) Difficulty {
	s, ok := v.(string)
	if !ok {
		return DifficultyNone
	}
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyNone:
		return Difficulty(s)
	default:
		return DifficultyNone
	}
}

// decodeSteps rebuilds the ordered sub-item list. Steps sort by their
// explicit sort key; entries whose key is absent or non-finite keep their
// array position, which sorts them stably among themselves.
func decodeSteps(v any) []Step {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	type keyed struct {
		step Step
		key  int
	}
	steps := make([]keyed, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		title, _ := decodeString(m["title"])
		st := Step{
			Title:      title,
			Difficulty: decodeDifficulty(m["difficulty"]),
			Done:       decodeBool(m["done"]),
		}
		key := i
		if k, ok := decodeInt64(m["sort_order"]); ok {
			key = int(k)
		}
		steps = append(steps, keyed{step: st, key: key})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].key < steps[j].key })
	out := make([]Step, len(steps))
	for i, k := range steps {
		out[i] = k.step
		out[i].SortOrder = i
	}
	return out
}
