// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

// Partition splits the local record set into the batches owed to the remote
// store, keyed by each record's pending action.
func Partition(records []Record) (upserts, deletes []Record) {
	for _, r := range records {
		switch r.Pending {
		case PendingUpsert:
			upserts = append(upserts, r)
		case PendingDelete:
			deletes = append(deletes, r)
		}
	}
	return
}

// MarkActiveSet diffs the caller's next snapshot against the current local
// set and returns the new full set with pending actions assigned:
//
//   - a record absent from current is adopted with pending=upsert,
//   - a record whose content changed is replaced with pending=upsert,
//   - a record with identical content is kept untouched (repeated saves of
//     unchanged data must never manufacture network traffic),
//   - a current record missing from next transitions to pending=delete and
//     stays in the set until the remote deletion is confirmed.
//
// A record already pending delete is not resurrected by this diff; once
// removed from the active set it can only come back as a new logical write.
func MarkActiveSet(current, next []Record, now int64) []Record {
	currentByID := make(map[string]Record, len(current))
	for _, r := range current {
		currentByID[r.ID] = r
	}

	nextIDs := make(map[string]struct{}, len(next))
	out := make([]Record, 0, len(current)+len(next))

	for _, n := range next {
		if n.ID == "" {
			continue
		}
		if _, dup := nextIDs[n.ID]; dup {
			continue
		}
		nextIDs[n.ID] = struct{}{}

		n = n.Normalize()
		cur, exists := currentByID[n.ID]
		if exists && cur.Pending != PendingDelete && ContentEqual(cur, n) {
			out = append(out, cur)
			continue
		}

		n.Pending = PendingUpsert
		n.UpdatedAt = now
		if exists && cur.Pending != PendingDelete {
			n.CreatedAt = cur.CreatedAt
		} else {
			// New logical write, also when recreating a previously deleted id.
			n.CreatedAt = now
		}
		out = append(out, n)
	}

	for _, cur := range current {
		if _, active := nextIDs[cur.ID]; active {
			continue
		}
		if cur.Pending == PendingDelete {
			out = append(out, cur)
			continue
		}
		cur.Pending = PendingDelete
		cur.UpdatedAt = now
		out = append(out, cur)
	}

	return out
}
