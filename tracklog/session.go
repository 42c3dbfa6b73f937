// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoIdentity is returned when a remote operation is attempted without a
// signed-in owner. Local persistence keeps working; only network activity is
// blocked.
var ErrNoIdentity = errors.New("no signed-in owner")

// ErrOwnerMismatch is returned when the signed-in owner changed between
// scheduling a push and running it. The push is blocked outright: writing one
// owner's pending records under another owner's scope is the one fatal-class
// condition in this subsystem.
var ErrOwnerMismatch = errors.New("signed-in owner changed, push blocked")

// Identity is the owner scope all remote calls run under.
type Identity struct {
	OwnerID string
}

// IdentityProvider exposes the current session owner. A nil identity with a
// nil error means signed out.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (*Identity, error)
}

// Config holds tuning knobs for a SyncSession.
type Config struct {
	// Debounce is the quiet period before a scheduled flush runs. Zero or
	// negative makes flushes synchronous.
	Debounce time.Duration
	// DeltaWindow bounds the remote fetch during a sync pass. See
	// DefaultDeltaWindow for the staleness trade-off.
	DeltaWindow time.Duration
	// MaxRetained caps how many records the local store keeps, most recent
	// first. Zero means unlimited.
	MaxRetained int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() *Config {
	return &Config{
		Debounce:    50 * time.Millisecond,
		DeltaWindow: DefaultDeltaWindow,
		MaxRetained: 500,
	}
}

// SyncSession owns all mutable sync state for one process and owner: the
// capability flags, the debounce timer and the in-flight sync guard. Tests
// can instantiate independent sessions without shared state leaking between
// them.
//
// Concurrency model: local reads and writes are synchronous (a caller that
// persists and immediately reads back sees its own write), subscribers
// observe updates on a deferred tick, and at most one remote sync pass runs
// at a time — a concurrent caller joins the in-flight pass instead of
// starting a second one.
type SyncSession struct {
	store     *Store
	gateway   *Gateway
	identity  IdentityProvider
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
	bus       *Broadcaster

	now func() int64 // unix ms clock, overridable in tests

	mu      sync.Mutex
	ownerID string
	caps    Capabilities
	bound   bool

	sf singleflight.Group
}

// NewSyncSession wires a session from its collaborators. A nil config uses
// DefaultConfig, a nil logger uses slog.Default.
func NewSyncSession(store *Store, gateway *Gateway, identity IdentityProvider, config *Config, logger *slog.Logger) *SyncSession {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SyncSession{
		store:    store,
		gateway:  gateway,
		identity: identity,
		config:   config,
		logger:   logger,
		bus:      NewBroadcaster(logger),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	s.scheduler = NewScheduler(config.Debounce, func() {
		if err := s.PushPending(context.Background()); err != nil {
			s.logger.Warn("Scheduled flush failed, pending state retained", "error", err)
		}
	})
	return s
}

// Subscribe registers a listener for the active record set. Delivery is
// deferred and best-effort.
func (s *SyncSession) Subscribe(fn func([]Record)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Close stops the debounce timer. In-flight network calls finish on their
// own; their results are merged into whatever the local state has become.
func (s *SyncSession) Close() {
	s.scheduler.Stop()
}

// currentOwner resolves the signed-in owner and rebinds session state when
// the account changed. The previous owner's local state (pending mutations
// included) is discarded on switch so it can never be pushed under a later
// session, and the capability flags are reloaded for the new owner.
func (s *SyncSession) currentOwner(ctx context.Context) (string, error) {
	ident, err := s.identity.CurrentIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve identity: %w", err)
	}
	if ident == nil || ident.OwnerID == "" {
		return "", ErrNoIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound || s.ownerID != ident.OwnerID {
		if s.bound {
			s.logger.Info("Owner changed, discarding previous owner's local state",
				"previous", s.ownerID, "current", ident.OwnerID)
			s.store.DropOwner(s.ownerID)
		}
		s.ownerID = ident.OwnerID
		s.caps = s.store.ReadCapabilities(ident.OwnerID)
		s.bound = true
	}
	return s.ownerID, nil
}

func (s *SyncSession) capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound {
		return DefaultCapabilities()
	}
	return s.caps
}

func (s *SyncSession) updateCapabilities(ownerID string, caps Capabilities) {
	s.mu.Lock()
	changed := s.caps != caps
	s.caps = caps
	s.mu.Unlock()
	if changed {
		s.logger.Info("Remote schema capabilities degraded", "owner_id", ownerID,
			"extended_columns", caps.ExtendedColumns, "recurrence_links", caps.RecurrenceLinks)
		s.store.WriteCapabilities(ownerID, caps)
	}
}

// PersistSnapshot diffs the caller's next active set against the local
// store, tags changed and removed records pending, persists and broadcasts
// the result, and schedules a debounced push. It returns the new active set.
//
// Saving field-for-field identical content is a no-op: no timestamps move,
// nothing is marked pending, no flush is scheduled.
func (s *SyncSession) PersistSnapshot(ctx context.Context, next []Record) ([]Record, error) {
	ownerID, err := s.currentOwner(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	current := s.store.ReadAll(ownerID)
	merged := MarkActiveSet(current, next, now)

	if recordSetsEqual(current, merged) {
		return ActiveSet(current), nil
	}

	persisted := s.persist(ownerID, merged)
	s.scheduler.ScheduleFlush()
	return ActiveSet(persisted), nil
}

// Records returns the current active set, re-evaluating the planned flag
// first. A record whose start time has passed since it was stored flips to
// completed, is marked pending-upsert, and the change is persisted and
// broadcast before being returned.
func (s *SyncSession) Records(ctx context.Context) ([]Record, error) {
	ownerID, err := s.currentOwner(ctx)
	if err != nil {
		return nil, err
	}

	records := s.store.ReadAll(ownerID)
	reclassified, changed := ReclassifyPlanned(records, s.now())
	if changed {
		reclassified = s.persist(ownerID, reclassified)
		s.scheduler.ScheduleFlush()
	}
	return ActiveSet(reclassified), nil
}

// SyncWithRemote runs one full reconciliation pass: pull the windowed remote
// delta, merge it against local state last-writer-wins, persist and
// broadcast the result, then push whatever is still pending. Concurrent
// callers share a single in-flight pass.
func (s *SyncSession) SyncWithRemote(ctx context.Context) error {
	_, err, _ := s.sf.Do("sync", func() (any, error) {
		return nil, s.syncOnce(ctx)
	})
	return err
}

func (s *SyncSession) syncOnce(ctx context.Context) error {
	ownerID, err := s.currentOwner(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	windowStart := now - s.config.DeltaWindow.Milliseconds()

	remote, err := s.gateway.FetchDelta(ctx, windowStart)
	if err != nil {
		// Pull failure must not trigger deletion detection against an empty
		// delta; skip the merge and leave pending state for the next pass.
		return fmt.Errorf("delta fetch failed: %w", err)
	}

	local := s.store.ReadAll(ownerID)
	merged := MergeRemoteDelta(local, remote, s.capabilities(), windowStart, now)
	s.persist(ownerID, merged)

	return s.PushPending(ctx)
}

// PushPending flushes the pending upsert and delete batches through the
// gateway. On success each record's pending action clears and UpdatedAt
// advances to the server-accepted timestamp; on transient failure pending
// state is left untouched for the next flush or sync pass.
func (s *SyncSession) PushPending(ctx context.Context) error {
	ownerID, err := s.currentOwner(ctx)
	if err != nil {
		return err
	}

	records := s.store.ReadAll(ownerID)
	upserts, deletes := Partition(records)
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	// Re-check the owner right before the network calls. A stale snapshot
	// pushed under a fresh owner would corrupt both accounts.
	if ident, identErr := s.identity.CurrentIdentity(ctx); identErr != nil {
		return fmt.Errorf("failed to re-resolve identity: %w", identErr)
	} else if ident == nil || ident.OwnerID != ownerID {
		return ErrOwnerMismatch
	}

	changed := false
	acceptedAt := make(map[string]int64)

	if len(upserts) > 0 {
		accepted, caps, upsertErr := s.gateway.UpsertBatch(ctx, upserts, s.capabilities())
		s.updateCapabilities(ownerID, caps)
		if upsertErr != nil {
			return fmt.Errorf("upsert flush failed: %w", upsertErr)
		}
		for _, row := range accepted {
			acceptedAt[row.ID] = row.UpdatedAt
		}
		changed = true
	}

	removed := make(map[string]struct{})
	if len(deletes) > 0 {
		ids := make([]string, len(deletes))
		for i, r := range deletes {
			ids[i] = r.ID
		}
		deleted, purged, deleteErr := s.gateway.DeleteBatch(ctx, ids)
		for _, id := range purged {
			removed[id] = struct{}{}
			changed = true
		}
		if deleteErr != nil {
			if changed {
				s.persist(ownerID, applyPushResults(records, acceptedAt, removed))
			}
			return fmt.Errorf("delete flush failed: %w", deleteErr)
		}
		for _, id := range deleted {
			removed[id] = struct{}{}
		}
		changed = true
	}

	if changed {
		s.persist(ownerID, applyPushResults(records, acceptedAt, removed))
	}
	return nil
}

// applyPushResults clears pending flags for acknowledged upserts, adopting
// the server-accepted timestamps, and drops confirmed deletions.
func applyPushResults(records []Record, acceptedAt map[string]int64, removed map[string]struct{}) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, gone := removed[r.ID]; gone && r.Pending == PendingDelete {
			continue
		}
		if ts, ok := acceptedAt[r.ID]; ok && r.Pending == PendingUpsert {
			r.Pending = PendingNone
			r.UpdatedAt = ts
		}
		out = append(out, r)
	}
	return out
}

// persist sorts deterministically, truncates to the retention cap, writes to
// the local store and broadcasts the active set on a deferred tick. Returns
// the record set as written.
func (s *SyncSession) persist(ownerID string, records []Record) []Record {
	sortRecords(records)
	if s.config.MaxRetained > 0 && len(records) > s.config.MaxRetained {
		records = records[:s.config.MaxRetained]
	}
	s.store.WriteAll(ownerID, records)
	s.bus.Publish(ActiveSet(records))
	return records
}

// sortRecords orders most-recent-first by end time, tie-broken by start time
// descending, then by id for total determinism. UI consumers slice a fixed
// "most recent N" window off the front, so this order must be stable.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].EndAt != records[j].EndAt {
			return records[i].EndAt > records[j].EndAt
		}
		if records[i].StartAt != records[j].StartAt {
			return records[i].StartAt > records[j].StartAt
		}
		return records[i].ID < records[j].ID
	})
}

func recordSetsEqual(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]Record, len(a))
	for _, r := range a {
		byID[r.ID] = r
	}
	for _, r := range b {
		other, ok := byID[r.ID]
		if !ok || other.Pending != r.Pending || other.UpdatedAt != r.UpdatedAt ||
			other.CreatedAt != r.CreatedAt || !ContentEqual(other, r) {
			return false
		}
	}
	return true
}
