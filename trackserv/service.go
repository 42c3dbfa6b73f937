// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package trackserv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ServiceConfig holds configuration for the record store service.
type ServiceConfig struct {
	// ExtendedSchema provisions the optional linkage columns and the
	// recurrence-rule table. Existing deployments without them keep running;
	// requests naming the missing columns fail with SQLSTATE 42703 and the
	// client degrades.
	ExtendedSchema bool
	// MaxBatchSize caps rows per upsert and ids per delete (0 = unlimited).
	MaxBatchSize int
}

// Service implements the remote record store over a pgx connection pool.
type Service struct {
	pool   *pgxpool.Pool
	config *ServiceConfig
	logger *slog.Logger
}

// NewService initializes the schema and returns a ready service.
// The caller owns the pool lifecycle.
func NewService(ctx context.Context, pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if config == nil {
		config = &ServiceConfig{ExtendedSchema: true}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := InitSchema(ctx, pool, config.ExtendedSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize record store schema: %w", err)
	}
	return &Service{pool: pool, config: config, logger: logger}, nil
}

// Pool returns the underlying connection pool for advanced callers.
func (s *Service) Pool() *pgxpool.Pool { return s.pool }

const baseColumns = "id, label, start_at, end_at, elapsed_ms, notes, steps, planned, created_at, updated_at"
const extendedColumns = baseColumns + ", recurrence_id, occurrence_date, original_start_at"

// FetchDelta returns the owner's rows updated at or after since, ordered by
// updated_at so clients converge front to back.
func (s *Service) FetchDelta(ctx context.Context, ownerID string, since int64) ([]RecordRow, error) {
	columns := baseColumns
	if s.config.ExtendedSchema {
		columns = extendedColumns
	}
	q := fmt.Sprintf(`SELECT %s FROM track.track_sessions
		WHERE owner_id = $1 AND updated_at >= $2
		ORDER BY updated_at, id`, columns)

	rows, err := s.pool.Query(ctx, q, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query delta: %w", err)
	}
	defer rows.Close()

	out := make([]RecordRow, 0, 64)
	for rows.Next() {
		var row RecordRow
		var id uuid.UUID
		dest := []any{&id, &row.Label, &row.StartAt, &row.EndAt, &row.ElapsedMS,
			&row.Notes, &row.Steps, &row.Planned, &row.CreatedAt, &row.UpdatedAt}
		if s.config.ExtendedSchema {
			var recurrenceID *uuid.UUID
			dest = append(dest, &recurrenceID, &row.OccurrenceDate, &row.OriginalStartAt)
			if err := rows.Scan(dest...); err != nil {
				return nil, fmt.Errorf("failed to scan delta row: %w", err)
			}
			if recurrenceID != nil {
				rid := recurrenceID.String()
				row.RecurrenceID = &rid
			}
		} else if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan delta row: %w", err)
		}
		row.ID = id.String()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read delta rows: %w", err)
	}
	return out, nil
}

// UpsertBatch applies a bulk idempotent upsert by id. The column list is
// driven by the request: optional columns only enter the SQL when some row
// actually carries them, so a basic-schema deployment serves clients that
// already degraded without error, and answers 42703 to those that have not.
func (s *Service) UpsertBatch(ctx context.Context, ownerID string, rowsIn []RecordRow) ([]AcceptedRow, error) {
	if len(rowsIn) == 0 {
		return []AcceptedRow{}, nil
	}
	if s.config.MaxBatchSize > 0 && len(rowsIn) > s.config.MaxBatchSize {
		return nil, &ValidationError{Reason: fmt.Sprintf("batch too large: %d > %d", len(rowsIn), s.config.MaxBatchSize)}
	}

	withExtended := false
	for i := range rowsIn {
		if err := validateRow(&rowsIn[i]); err != nil {
			return nil, err
		}
		if rowsIn[i].HasExtended() {
			withExtended = true
		}
	}

	q := buildUpsertSQL(withExtended)

	accepted := make([]AcceptedRow, 0, len(rowsIn))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range rowsIn {
			row := &rowsIn[i]
			args := []any{ownerID, row.ID, row.Label, row.StartAt, row.EndAt,
				row.ElapsedMS, row.Notes, row.Steps, row.Planned, row.CreatedAt, row.UpdatedAt}
			if withExtended {
				args = append(args, row.RecurrenceID, row.OccurrenceDate, row.OriginalStartAt)
			}

			var id uuid.UUID
			var updatedAt int64
			err := tx.QueryRow(ctx, q, args...).Scan(&id, &updatedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				// A newer copy is already stored; the stale write is a no-op
				// and the stored timestamp is what the client must adopt.
				err = tx.QueryRow(ctx,
					`SELECT id, updated_at FROM track.track_sessions WHERE owner_id = $1 AND id = $2`,
					ownerID, row.ID).Scan(&id, &updatedAt)
			}
			if err != nil {
				return fmt.Errorf("failed to upsert row %s: %w", row.ID, err)
			}
			accepted = append(accepted, AcceptedRow{ID: id.String(), UpdatedAt: updatedAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// buildUpsertSQL assembles the single-row upsert statement. LWW lives on
// the server too: an upsert only overwrites a row it is not older than, so
// a racing stale client cannot roll back a newer peer write.
func buildUpsertSQL(withExtended bool) string {
	cols := []string{"owner_id", "id", "label", "start_at", "end_at", "elapsed_ms",
		"notes", "steps", "planned", "created_at", "updated_at"}
	if withExtended {
		cols = append(cols, "recurrence_id", "occurrence_date", "original_start_at")
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	assignments := make([]string, 0, len(cols)-2)
	for _, col := range cols[2:] {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return fmt.Sprintf(`INSERT INTO track.track_sessions (%s)
		VALUES (%s)
		ON CONFLICT (owner_id, id) DO UPDATE SET %s
		WHERE track.track_sessions.updated_at <= EXCLUDED.updated_at
		RETURNING id, updated_at`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(assignments, ", "))
}

// DeleteBatch removes the owner's rows with the given ids. Unknown ids are
// not an error; delete-by-id is idempotent.
func (s *Service) DeleteBatch(ctx context.Context, ownerID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if s.config.MaxBatchSize > 0 && len(ids) > s.config.MaxBatchSize {
		return 0, &ValidationError{Reason: fmt.Sprintf("batch too large: %d > %d", len(ids), s.config.MaxBatchSize)}
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			return 0, &ValidationError{Reason: fmt.Sprintf("id %q is not a valid UUID", id)}
		}
		parsed = append(parsed, u)
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM track.track_sessions WHERE owner_id = $1 AND id = ANY($2)`,
		ownerID, parsed)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rows: %w", err)
	}
	return tag.RowsAffected(), nil
}
