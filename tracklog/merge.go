// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import "time"

// DefaultDeltaWindow bounds how far back a sync pass looks at the remote
// store. Remote rows older than the window are never fetched, and local
// records older than the window are never dropped by deletion detection.
//
// This is a deliberate staleness bound: a record deleted remotely after
// falling out of the window will survive locally until it is edited again.
// Widening the window trades network cost for tighter delete convergence.
const DefaultDeltaWindow = 30 * 24 * time.Hour

// MergeRemoteDelta reconciles the local record set with a freshly fetched
// remote delta covering [windowStart, now]. Conflicts resolve last-writer-
// wins on UpdatedAt, compared as exact integer milliseconds; minute snapping
// upstream is what makes ties achievable across round trips.
//
// Rules, in order:
//
//   - remote row unknown locally: adopt it verbatim (pending=none);
//   - remote strictly newer: remote wins, except linkage fields the remote
//     schema does not carry (per caps) keep their local values;
//   - remote equal and local clean: remote wins, converging to the fetched
//     copy;
//   - otherwise local wins, pending edits included;
//   - a clean local record inside the window but absent from the delta was
//     deleted remotely and is dropped. Records outside the window or with a
//     pending action are never silently dropped;
//   - finally the planned flag is re-evaluated against now (the future is a
//     moving target), marking flipped records pending-upsert.
//
// The merge is pure: inputs are never mutated, and applying the same delta
// twice yields the same result as applying it once.
func MergeRemoteDelta(local, remote []Record, caps Capabilities, windowStart, now int64) []Record {
	remoteByID := make(map[string]Record, len(remote))
	for _, r := range remote {
		remoteByID[r.ID] = r
	}
	localIDs := make(map[string]struct{}, len(local))

	merged := make([]Record, 0, len(local)+len(remote))

	for _, loc := range local {
		localIDs[loc.ID] = struct{}{}
		rem, inDelta := remoteByID[loc.ID]

		if !inDelta {
			// Deletion detection, bounded by the window.
			if loc.Pending == PendingNone && loc.UpdatedAt >= windowStart {
				continue
			}
			merged = append(merged, loc)
			continue
		}

		remoteWins := rem.UpdatedAt > loc.UpdatedAt ||
			(rem.UpdatedAt == loc.UpdatedAt && loc.Pending == PendingNone)
		if !remoteWins {
			merged = append(merged, loc)
			continue
		}

		adopted := rem.Clone()
		adopted.Pending = PendingNone
		if !caps.ExtendedColumns {
			// The remote schema cannot carry the linkage columns; nulling
			// them out here would destroy locally-known data.
			adopted.RecurrenceID = loc.RecurrenceID
			adopted.OccurrenceDate = loc.OccurrenceDate
			adopted.OriginalStartAt = loc.OriginalStartAt
		} else if !caps.RecurrenceLinks {
			adopted.RecurrenceID = loc.RecurrenceID
		}
		merged = append(merged, adopted.Normalize())
	}

	for _, rem := range remote {
		if _, known := localIDs[rem.ID]; known {
			continue
		}
		adopted := rem.Clone().Normalize()
		adopted.Pending = PendingNone
		merged = append(merged, adopted)
	}

	merged, _ = ReclassifyPlanned(merged, now)
	return merged
}
