// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package trackserv

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// classifyError maps a service failure to an HTTP status and the wire error
// body. Postgres failures surface their SQLSTATE verbatim so clients can
// classify schema faults (missing column, FK violation, duplicate key)
// without parsing prose.
func classifyError(errCode string, err error) (int, ErrorResponse) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validationErr.Reason,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		resp := ErrorResponse{Error: errCode, Code: pgErr.SQLState(), Message: pgErr.Message}
		switch pgErr.SQLState() {
		case "42703", // undefined_column
			"23503": // foreign_key_violation
			return http.StatusBadRequest, resp
		case "23505": // unique_violation
			return http.StatusConflict, resp
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return http.StatusServiceUnavailable, resp
		default:
			return http.StatusInternalServerError, resp
		}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: errCode, Message: err.Error()}
}
