// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapToMinute(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{29_999, 0},
		{30_000, 60_000},
		{60_000, 60_000},
		{89_999, 60_000},
		{90_000, 120_000},
		{1_700_000_012_345, 1_700_000_040_000},
	}
	for _, tc := range cases {
		if got := SnapToMinute(tc.in); got != tc.want {
			t.Fatalf("SnapToMinute(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeElapsedInvariant(t *testing.T) {
	r := Record{ID: "a", StartAt: 120_000, EndAt: 180_000}.Normalize()
	require.Equal(t, int64(60_000), r.ElapsedMS)

	// End before start clamps to zero rather than going negative.
	r = Record{ID: "a", StartAt: 180_000, EndAt: 120_000}.Normalize()
	require.Equal(t, int64(0), r.ElapsedMS)
}

func TestNormalizeRenumbersStepSortKeys(t *testing.T) {
	r := Record{ID: "a", Steps: []Step{
		{Title: "second", SortOrder: 10},
		{Title: "first", SortOrder: 5},
	}}.Normalize()
	require.Equal(t, []Step{
		{Title: "first", SortOrder: 0},
		{Title: "second", SortOrder: 1},
	}, r.Steps)

	// Normalizing twice is stable: the stored copy equals the saved copy.
	require.Equal(t, r.Steps, r.Normalize().Steps)
}

func TestContentEqualIgnoresSyncMeta(t *testing.T) {
	a := Record{ID: "a", Label: "deep work", StartAt: 60_000, EndAt: 120_000, ElapsedMS: 60_000,
		CreatedAt: 1, UpdatedAt: 2, Pending: PendingUpsert}
	b := a
	b.CreatedAt = 100
	b.UpdatedAt = 200
	b.Pending = PendingNone
	require.True(t, ContentEqual(a, b))

	b.Notes = "changed"
	require.False(t, ContentEqual(a, b))
}

func TestContentEqualOptionalFields(t *testing.T) {
	rid := "7f0c1b8e-9a47-4a2a-8a1c-0c6a0e3f1d21"
	a := Record{ID: "a", RecurrenceID: &rid}
	b := Record{ID: "a"}
	require.False(t, ContentEqual(a, b))

	rid2 := rid
	b.RecurrenceID = &rid2
	require.True(t, ContentEqual(a, b))
}

func TestReclassifyPlannedFlipsExactlyOnce(t *testing.T) {
	now := int64(10 * 60_000)
	records := []Record{
		{ID: "future", StartAt: 20 * 60_000, EndAt: 21 * 60_000, Planned: true},
		{ID: "past", StartAt: 5 * 60_000, EndAt: 6 * 60_000, Planned: true},
		{ID: "done", StartAt: 1 * 60_000, EndAt: 2 * 60_000, Planned: false},
	}

	out, changed := ReclassifyPlanned(records, now)
	require.True(t, changed)
	require.True(t, out[0].Planned, "record still in the future stays planned")
	require.Equal(t, PendingNone, out[0].Pending)

	require.False(t, out[1].Planned, "record whose start passed flips to completed")
	require.Equal(t, PendingUpsert, out[1].Pending)
	require.Equal(t, now, out[1].UpdatedAt)

	require.Equal(t, PendingNone, out[2].Pending, "already-correct record untouched")

	// Second evaluation with the same clock is a no-op.
	again, changed := ReclassifyPlanned(out, now)
	require.False(t, changed)
	require.Equal(t, out, again)
}

func TestReclassifyPlannedSkipsPendingDelete(t *testing.T) {
	records := []Record{{ID: "x", StartAt: 0, EndAt: 60_000, Planned: true, Pending: PendingDelete}}
	out, changed := ReclassifyPlanned(records, 120_000)
	require.False(t, changed)
	require.Equal(t, PendingDelete, out[0].Pending)
}

func TestActiveSetHidesPendingDeletes(t *testing.T) {
	records := []Record{
		{ID: "a"},
		{ID: "b", Pending: PendingDelete},
		{ID: "c", Pending: PendingUpsert},
	}
	active := ActiveSet(records)
	require.Len(t, active, 2)
	for _, r := range active {
		require.NotEqual(t, PendingDelete, r.Pending)
	}
}
