// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

const (
	keyRecords      = "records"
	keyCapabilities = "remote_capabilities"
)

// Store is the durable local key/value store backing one device. Values are
// JSON documents scoped by owner, so switching accounts never mixes state.
//
// Reads fail soft: absent keys, corrupt JSON and foreign shapes all degrade
// to an empty default set. Writes are best-effort: storage failures are
// logged and swallowed so a full disk never takes down the caller — the
// in-memory state stays authoritative until the next successful write.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps an open SQLite handle and creates the backing table.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS local_kv (
		owner_id TEXT NOT NULL,
		key      TEXT NOT NULL,
		value    TEXT NOT NULL,
		PRIMARY KEY (owner_id, key)
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create local_kv table: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenStore opens (or creates) a store at the given SQLite path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return NewStore(db, logger)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadAll returns the full local record set for an owner. Corrupt or missing
// data degrades to an empty set, never an error.
func (s *Store) ReadAll(ownerID string) []Record {
	raw, ok := s.readValue(ownerID, keyRecords)
	if !ok {
		return []Record{}
	}
	return SanitizeRecords([]byte(raw))
}

// WriteAll persists the full local record set for an owner. Best-effort.
func (s *Store) WriteAll(ownerID string, records []Record) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		s.logger.Warn("Skipping local write, records not serializable", "error", err, "owner_id", ownerID)
		return
	}
	s.writeValue(ownerID, keyRecords, string(data))
}

// ReadCapabilities returns the persisted remote-schema capability flags for
// an owner, defaulting to the optimistic full column set.
func (s *Store) ReadCapabilities(ownerID string) Capabilities {
	raw, ok := s.readValue(ownerID, keyCapabilities)
	if !ok {
		return DefaultCapabilities()
	}
	var caps Capabilities
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		s.logger.Warn("Discarding corrupt capability flags", "error", err, "owner_id", ownerID)
		return DefaultCapabilities()
	}
	return caps
}

// WriteCapabilities persists the capability flags so future sessions skip
// unsupported columns preemptively. Best-effort.
func (s *Store) WriteCapabilities(ownerID string, caps Capabilities) {
	data, err := json.Marshal(caps)
	if err != nil {
		s.logger.Warn("Skipping capability write", "error", err, "owner_id", ownerID)
		return
	}
	s.writeValue(ownerID, keyCapabilities, string(data))
}

// DropOwner removes all locally stored state for an owner. Used when the
// signed-in account changes: pending state must never be merged across
// owners.
func (s *Store) DropOwner(ownerID string) {
	if _, err := s.db.Exec(`DELETE FROM local_kv WHERE owner_id = ?`, ownerID); err != nil {
		s.logger.Warn("Failed to drop local state for owner", "error", err, "owner_id", ownerID)
	}
}

func (s *Store) readValue(ownerID, key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM local_kv WHERE owner_id = ? AND key = ?`, ownerID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("Local read failed, using defaults", "error", err, "owner_id", ownerID, "key", key)
		return "", false
	}
	return value, true
}

func (s *Store) writeValue(ownerID, key, value string) {
	_, err := s.db.Exec(`INSERT INTO local_kv (owner_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (owner_id, key) DO UPDATE SET value = excluded.value`, ownerID, key, value)
	if err != nil {
		s.logger.Warn("Local write failed, keeping in-memory state only", "error", err, "owner_id", ownerID, "key", key)
	}
}
