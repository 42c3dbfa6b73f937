// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testWindowStart = int64(1_000 * 60_000)
	testNow         = int64(2_000 * 60_000)
)

func fullCaps() Capabilities { return DefaultCapabilities() }

func mergedByID(t *testing.T, merged []Record) map[string]Record {
	t.Helper()
	out := make(map[string]Record, len(merged))
	for _, r := range merged {
		out[r.ID] = r
	}
	return out
}

func TestMergeAdoptsUnknownRemoteRows(t *testing.T) {
	remote := []Record{{ID: "new", Label: "from server", StartAt: testWindowStart, EndAt: testWindowStart + 60_000, UpdatedAt: testWindowStart}}
	merged := MergeRemoteDelta(nil, remote, fullCaps(), testWindowStart, testNow)
	require.Len(t, merged, 1)
	require.Equal(t, "from server", merged[0].Label)
	require.Equal(t, PendingNone, merged[0].Pending)
}

func TestMergeLastWriterWins(t *testing.T) {
	base := Record{ID: "a", StartAt: testWindowStart, EndAt: testWindowStart + 60_000}

	local := base
	local.Label = "local"
	local.UpdatedAt = 5_000_000

	remote := base
	remote.Label = "remote"

	cases := []struct {
		name          string
		remoteUpdated int64
		localPending  PendingAction
		wantLabel     string
	}{
		{"remote newer wins", 6_000_000, PendingNone, "remote"},
		{"remote newer beats pending local", 6_000_000, PendingUpsert, "remote"},
		{"tie with clean local converges to remote", 5_000_000, PendingNone, "remote"},
		{"tie with pending local keeps local", 5_000_000, PendingUpsert, "local"},
		{"remote older keeps local", 4_000_000, PendingNone, "local"},
		{"remote older keeps pending local", 4_000_000, PendingUpsert, "local"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc := local
			loc.Pending = tc.localPending
			rem := remote
			rem.UpdatedAt = tc.remoteUpdated

			merged := MergeRemoteDelta([]Record{loc}, []Record{rem}, fullCaps(), testWindowStart, testNow)
			require.Len(t, merged, 1)
			require.Equal(t, tc.wantLabel, merged[0].Label)
			if tc.wantLabel == "local" {
				require.Equal(t, tc.localPending, merged[0].Pending, "losing merge never touches local pending state")
			} else {
				require.Equal(t, PendingNone, merged[0].Pending)
			}
		})
	}
}

func TestMergeDeletionDetectionRespectsWindowAndPending(t *testing.T) {
	inWindowClean := Record{ID: "in-clean", StartAt: testWindowStart, EndAt: testWindowStart + 60_000, UpdatedAt: testWindowStart + 60_000}
	inWindowPending := Record{ID: "in-pending", StartAt: testWindowStart, EndAt: testWindowStart + 60_000, UpdatedAt: testWindowStart + 60_000, Pending: PendingUpsert}
	outOfWindow := Record{ID: "old", StartAt: 0, EndAt: 60_000, UpdatedAt: testWindowStart - 1}

	merged := MergeRemoteDelta([]Record{inWindowClean, inWindowPending, outOfWindow}, nil, fullCaps(), testWindowStart, testNow)
	byID := mergedByID(t, merged)

	require.NotContains(t, byID, "in-clean", "clean in-window record absent from delta was deleted remotely")
	require.Contains(t, byID, "in-pending", "pending records are never silently dropped")
	require.Contains(t, byID, "old", "records outside the window are never silently dropped")
}

func TestMergeCarriesLocalLinkageWhenSchemaDegraded(t *testing.T) {
	rid := "4f2f3d52-6f4d-49ab-9f7e-58c1d7e5b102"
	occ := "2026-08-01"
	orig := int64(testWindowStart)

	local := Record{ID: "a", Label: "local", StartAt: testWindowStart, EndAt: testWindowStart + 60_000,
		UpdatedAt: 5_000_000, RecurrenceID: &rid, OccurrenceDate: &occ, OriginalStartAt: &orig}
	remote := Record{ID: "a", Label: "remote", StartAt: testWindowStart, EndAt: testWindowStart + 60_000,
		UpdatedAt: 6_000_000}

	caps := Capabilities{ExtendedColumns: false, RecurrenceLinks: false}
	merged := MergeRemoteDelta([]Record{local}, []Record{remote}, caps, testWindowStart, testNow)
	require.Len(t, merged, 1)
	require.Equal(t, "remote", merged[0].Label, "remote content still wins")
	require.Equal(t, &rid, merged[0].RecurrenceID, "linkage the remote cannot carry survives")
	require.Equal(t, &occ, merged[0].OccurrenceDate)
	require.Equal(t, &orig, merged[0].OriginalStartAt)

	// With the full schema, the remote copy is authoritative even for nils.
	merged = MergeRemoteDelta([]Record{local}, []Record{remote}, fullCaps(), testWindowStart, testNow)
	require.Nil(t, merged[0].RecurrenceID)
}

func TestMergeRecurrenceOnlyDegradation(t *testing.T) {
	rid := "4f2f3d52-6f4d-49ab-9f7e-58c1d7e5b102"
	occ := "2026-08-01"
	local := Record{ID: "a", StartAt: testWindowStart, EndAt: testWindowStart + 60_000,
		UpdatedAt: 5_000_000, RecurrenceID: &rid, OccurrenceDate: &occ}
	remoteOcc := "2026-08-02"
	remote := Record{ID: "a", StartAt: testWindowStart, EndAt: testWindowStart + 60_000,
		UpdatedAt: 6_000_000, OccurrenceDate: &remoteOcc}

	caps := Capabilities{ExtendedColumns: true, RecurrenceLinks: false}
	merged := MergeRemoteDelta([]Record{local}, []Record{remote}, caps, testWindowStart, testNow)
	require.Equal(t, &rid, merged[0].RecurrenceID, "recurrence link carried over")
	require.Equal(t, &remoteOcc, merged[0].OccurrenceDate, "other optional fields follow the remote copy")
}

func TestMergeReclassifiesPlannedRecords(t *testing.T) {
	// Remote row says planned, but its start has already passed.
	remote := []Record{{ID: "a", StartAt: testWindowStart, EndAt: testWindowStart + 60_000,
		UpdatedAt: testWindowStart, Planned: true}}
	merged := MergeRemoteDelta(nil, remote, fullCaps(), testWindowStart, testNow)
	require.Len(t, merged, 1)
	require.False(t, merged[0].Planned)
	require.Equal(t, PendingUpsert, merged[0].Pending, "reclassification must propagate back to the remote")
}

func TestMergeIdempotentUnderSameDelta(t *testing.T) {
	rid := "4f2f3d52-6f4d-49ab-9f7e-58c1d7e5b102"
	local := []Record{
		{ID: "a", Label: "local", StartAt: testWindowStart, EndAt: testWindowStart + 60_000, UpdatedAt: 5_000_000, Pending: PendingUpsert},
		{ID: "b", Label: "old", StartAt: 0, EndAt: 60_000, UpdatedAt: testWindowStart - 1},
	}
	remote := []Record{
		{ID: "a", Label: "remote", StartAt: testWindowStart, EndAt: testWindowStart + 60_000, UpdatedAt: 6_000_000, RecurrenceID: &rid},
		{ID: "c", Label: "new", StartAt: testWindowStart, EndAt: testWindowStart + 120_000, UpdatedAt: testWindowStart},
	}

	once := MergeRemoteDelta(local, remote, fullCaps(), testWindowStart, testNow)
	twice := MergeRemoteDelta(once, remote, fullCaps(), testWindowStart, testNow)
	require.ElementsMatch(t, once, twice)
}
