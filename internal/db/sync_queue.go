package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colabottles/basketbuddy/internal/models"
)

const opColumns = "id, type, table_name, data, fields, timestamp, synced, retries, next_retry_at, status, last_error"

func scanOperation(s interface{ Scan(...interface{}) error }) (*models.SyncOperation, error) {
	var op models.SyncOperation
	var typ, table, data, fields, status string
	var ts, next int64
	var synced int
	err := s.Scan(&op.ID, &typ, &table, &data, &fields, &ts, &synced, &op.Retries, &next, &status, &op.LastError)
	if err != nil {
		return nil, err
	}
	payload, err := models.DecodePayload(models.Table(table), []byte(data))
	if err != nil {
		return nil, fmt.Errorf("outbox entry %s: %w", op.ID, err)
	}
	op.Type = models.OpType(typ)
	op.Data = payload
	if fields != "" {
		op.Fields = strings.Split(fields, ",")
	}
	op.Timestamp = models.FromMillis(ts)
	op.Synced = synced != 0
	if next > 0 {
		op.NextRetryAt = models.FromMillis(next)
	}
	op.Status = models.OpStatus(status)
	return &op, nil
}

func collectOperations(rows *sql.Rows) ([]models.SyncOperation, error) {
	defer rows.Close()
	var out []models.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

// PutOperation upserts an outbox entry by id. A new entry is appended after
// every existing one; an existing entry keeps its queue position.
func (r *Repository) PutOperation(ctx context.Context, op *models.SyncOperation) error {
	if op.Data == nil {
		return persistErr("put outbox entry "+op.ID, errors.New("operation has no payload"))
	}
	data, err := json.Marshal(op.Data)
	if err != nil {
		return persistErr("encode outbox entry "+op.ID, err)
	}
	status := op.Status
	if status == "" {
		status = models.OpStatusPending
	}

	_, err = r.exec(ctx, "put outbox entry "+op.ID, `
	INSERT INTO syncQueue (id, type, table_name, entity_id, data, fields, timestamp, synced, retries, next_retry_at, status, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		synced = excluded.synced,
		retries = excluded.retries,
		next_retry_at = excluded.next_retry_at,
		status = excluded.status,
		last_error = excluded.last_error`,
		op.ID, string(op.Type), string(op.Table()), op.EntityID(), string(data),
		strings.Join(op.Fields, ","), millis(op.Timestamp), boolInt(op.Synced),
		op.Retries, millis(op.NextRetryAt), string(status), op.LastError)
	return err
}

// GetOperation retrieves an outbox entry by id.
func (r *Repository) GetOperation(ctx context.Context, id string) (*models.SyncOperation, error) {
	row, err := r.queryRow(ctx, "SELECT "+opColumns+" FROM syncQueue WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(tableSyncQueue, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox entry %s: %w", id, err)
	}
	return op, nil
}

// OperationsBySynced returns every entry with the given synced flag in
// queue order.
func (r *Repository) OperationsBySynced(ctx context.Context, synced bool) ([]models.SyncOperation, error) {
	rows, err := r.query(ctx, "SELECT "+opColumns+" FROM syncQueue WHERE synced = ? ORDER BY timestamp, seq", boolInt(synced))
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox by synced: %w", err)
	}
	return collectOperations(rows)
}

// ReadyOperations returns unsynced pending entries due at or before now, in
// queue order. An entry stays back while an earlier pending entry for the
// same row is still waiting out its backoff.
func (r *Repository) ReadyOperations(ctx context.Context, now time.Time) ([]models.SyncOperation, error) {
	pending := string(models.OpStatusPending)
	rows, err := r.query(ctx, "SELECT "+opColumns+` FROM syncQueue q
		WHERE q.synced = 0 AND q.status = ? AND q.next_retry_at <= ?
		AND NOT EXISTS (
			SELECT 1 FROM syncQueue e
			WHERE e.synced = 0 AND e.status = ?
			AND e.table_name = q.table_name AND e.entity_id = q.entity_id
			AND e.next_retry_at > ?
			AND (e.timestamp < q.timestamp OR (e.timestamp = q.timestamp AND e.seq < q.seq))
		)
		ORDER BY q.timestamp, q.seq`, pending, millis(now), pending, millis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query ready outbox entries: %w", err)
	}
	return collectOperations(rows)
}

// HasPendingOperations reports whether a row has unsynced pending entries.
func (r *Repository) HasPendingOperations(ctx context.Context, table models.Table, entityID string) (bool, error) {
	row, err := r.queryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM syncQueue
		WHERE table_name = ? AND entity_id = ? AND synced = 0 AND status = ?)`,
		string(table), entityID, string(models.OpStatusPending))
	if err != nil {
		return false, err
	}
	var exists int
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check outbox for %s %s: %w", table, entityID, err)
	}
	return exists != 0, nil
}

// OperationsByStatus returns unsynced entries in a status, in queue order.
func (r *Repository) OperationsByStatus(ctx context.Context, status models.OpStatus) ([]models.SyncOperation, error) {
	rows, err := r.query(ctx, "SELECT "+opColumns+" FROM syncQueue WHERE synced = 0 AND status = ? ORDER BY timestamp, seq", string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox by status: %w", err)
	}
	return collectOperations(rows)
}

// OperationsSince returns entries enqueued at or after since, in queue order.
func (r *Repository) OperationsSince(ctx context.Context, since time.Time) ([]models.SyncOperation, error) {
	rows, err := r.query(ctx, "SELECT "+opColumns+" FROM syncQueue WHERE timestamp >= ? ORDER BY timestamp, seq", millis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox by timestamp: %w", err)
	}
	return collectOperations(rows)
}

// MarkOperationSynced flips an entry's synced flag.
func (r *Repository) MarkOperationSynced(ctx context.Context, id string) error {
	res, err := r.exec(ctx, "mark outbox entry "+id+" synced", "UPDATE syncQueue SET synced = 1, last_error = '' WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res, tableSyncQueue, id)
}

// EarliestRetry returns the soonest next_retry_at among pending entries
// that head their row's queue, if any. Entries behind another entry for the
// same row become due no sooner than it.
func (r *Repository) EarliestRetry(ctx context.Context) (time.Time, bool, error) {
	pending := string(models.OpStatusPending)
	row, err := r.queryRow(ctx, `SELECT MIN(q.next_retry_at) FROM syncQueue q
		WHERE q.synced = 0 AND q.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM syncQueue e
			WHERE e.synced = 0 AND e.status = ?
			AND e.table_name = q.table_name AND e.entity_id = q.entity_id
			AND (e.timestamp < q.timestamp OR (e.timestamp = q.timestamp AND e.seq < q.seq))
		)`, pending, pending)
	if err != nil {
		return time.Time{}, false, err
	}
	var next sql.NullInt64
	if err := row.Scan(&next); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read earliest retry: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return models.FromMillis(next.Int64), true, nil
}

// OperationCounts returns the number of unsynced entries per status and the
// number of synced entries awaiting purge.
func (r *Repository) OperationCounts(ctx context.Context) (map[models.OpStatus]int, int, error) {
	rows, err := r.query(ctx, "SELECT synced, status, COUNT(*) FROM syncQueue GROUP BY synced, status")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OpStatus]int)
	synced := 0
	for rows.Next() {
		var s, n int
		var status string
		if err := rows.Scan(&s, &status, &n); err != nil {
			return nil, 0, fmt.Errorf("failed to scan outbox count: %w", err)
		}
		if s != 0 {
			synced += n
			continue
		}
		counts[models.OpStatus(status)] += n
	}
	return counts, synced, rows.Err()
}

// DeleteOperation removes a single outbox entry.
func (r *Repository) DeleteOperation(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "delete outbox entry "+id, "DELETE FROM syncQueue WHERE id = ?", id)
	return err
}

// DeleteSyncedOperations removes every synced entry and reports how many.
func (r *Repository) DeleteSyncedOperations(ctx context.Context) (int64, error) {
	res, err := r.exec(ctx, "purge synced outbox entries", "DELETE FROM syncQueue WHERE synced = 1")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("count purged outbox entries", err)
	}
	return n, nil
}
