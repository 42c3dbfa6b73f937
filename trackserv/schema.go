// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package trackserv

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InitSchema creates the session table (and, when extended is true, the
// recurrence-rule table plus the optional linkage columns). The basic
// variant exists on purpose: it is what older deployments look like, and
// tests use it to exercise client capability degradation against real
// SQLSTATE errors.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, extended bool) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS track`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS track.track_sessions (
			owner_id   TEXT    NOT NULL,
			id         UUID    NOT NULL,
			label      TEXT    NOT NULL DEFAULT '',
			start_at   BIGINT  NOT NULL DEFAULT 0,
			end_at     BIGINT  NOT NULL DEFAULT 0,
			elapsed_ms BIGINT  NOT NULL DEFAULT 0,
			notes      TEXT    NOT NULL DEFAULT '',
			steps      JSONB,
			planned    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT  NOT NULL DEFAULT 0,
			updated_at BIGINT  NOT NULL,
			PRIMARY KEY (owner_id, id)
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS track_sessions_owner_updated
			ON track.track_sessions (owner_id, updated_at)`,
	}

	if extended {
		migrations = append(migrations,
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS track.recurrence_rules (
				owner_id   TEXT    NOT NULL,
				id         UUID    NOT NULL,
				rule       TEXT    NOT NULL DEFAULT '',
				label      TEXT    NOT NULL DEFAULT '',
				created_at BIGINT  NOT NULL DEFAULT 0,
				updated_at BIGINT  NOT NULL DEFAULT 0,
				PRIMARY KEY (owner_id, id)
			)`,
			/*language=postgresql*/ `ALTER TABLE track.track_sessions
				ADD COLUMN IF NOT EXISTS recurrence_id UUID`,
			/*language=postgresql*/ `ALTER TABLE track.track_sessions
				ADD COLUMN IF NOT EXISTS occurrence_date TEXT`,
			/*language=postgresql*/ `ALTER TABLE track.track_sessions
				ADD COLUMN IF NOT EXISTS original_start_at BIGINT`,
			/*language=postgresql*/ `DO $$
			BEGIN
			  IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE constraint_name = 'track_sessions_recurrence_id_fkey'
				  AND table_schema = 'track'
				  AND table_name = 'track_sessions'
			  ) THEN
				ALTER TABLE track.track_sessions
				  ADD CONSTRAINT track_sessions_recurrence_id_fkey
				  FOREIGN KEY (owner_id, recurrence_id)
				  REFERENCES track.recurrence_rules (owner_id, id);
			  END IF;
			END $$`,
		)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, migration := range migrations {
			if _, err := tx.Exec(ctx, migration); err != nil {
				return err
			}
		}
		return nil
	})
}
