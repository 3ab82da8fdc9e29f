// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"fmt"
	"time"

	"github.com/realericmc/tsurukame/wanikani"
)

// ErrorLogEntry is one retained failed-request diagnostic.
type ErrorLogEntry struct {
	ID        int64
	CreatedAt time.Time
	Code      int
	URL       string
	Request   string
	Response  string
	Message   string
}

// logError appends one diagnostic row and prunes everything beyond the
// newest ErrorLogLimit entries in the same transaction, so the ring stays
// bounded no matter how long the process runs. Logging failures are
// reported to slog only; diagnostics must never break a sync pass.
func (c *Client) logError(ctx context.Context, apiErr *wanikani.Error) {
	c.logger.Warn("sync failure", "kind", apiErr.Kind.String(), "status", apiErr.StatusCode,
		"url", apiErr.URL, "error", apiErr.Error())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.logger.Error("failed to begin error log transaction", "error", err)
		return
	}
	defer tx.Rollback()

	message := apiErr.Message
	if message == "" {
		message = apiErr.Error()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO error_log (created_at, code, url, request, response, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.now().Unix(), apiErr.StatusCode, apiErr.URL, apiErr.RequestBody, apiErr.ResponseBody, message); err != nil {
		c.logger.Error("failed to insert error log entry", "error", err)
		return
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM error_log WHERE id NOT IN (
			SELECT id FROM error_log ORDER BY id DESC LIMIT ?
		)
	`, c.config.ErrorLogLimit); err != nil {
		c.logger.Error("failed to prune error log", "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		c.logger.Error("failed to commit error log entry", "error", err)
	}
}

// ErrorLog returns the retained diagnostics, newest first, for support
// inspection and export.
func (c *Client) ErrorLog(ctx context.Context) ([]ErrorLogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, created_at, code, url, request, response, message
		FROM error_log ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query error log: %w", err)
	}
	defer rows.Close()

	var entries []ErrorLogEntry
	for rows.Next() {
		var e ErrorLogEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &createdAt, &e.Code, &e.URL, &e.Request, &e.Response, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan error log entry: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
