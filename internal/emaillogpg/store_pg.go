package emaillogpg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/emaillog"
)

// PostgresStore persists delivery entries in PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Record appends one delivery entry.
func (store *PostgresStore) Record(ctx context.Context, entry emaillog.Entry) error {
	if entry.Recipient == "" {
		return fmt.Errorf("email_log.record.pgx: %w", emaillog.ErrEmptyRecipient)
	}
	entryID := entry.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}
	sentAt := entry.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO email_deliveries (entry_id, message_id, recipient, subject, email_type, status_code, sent_at_unix)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, entryID, entry.MessageID, entry.Recipient, entry.Subject, entry.EmailType, entry.StatusCode, sentAt.Unix())
	if execErr != nil {
		return fmt.Errorf("email_log.record.pgx: %w", execErr)
	}
	return nil
}

// RecentByRecipient lists the newest entries for a recipient.
func (store *PostgresStore) RecentByRecipient(ctx context.Context, recipient string, limit int) ([]emaillog.Entry, error) {
	rows, queryErr := store.pool.Query(ctx, `
SELECT entry_id, message_id, recipient, subject, email_type, status_code, sent_at_unix
FROM email_deliveries
WHERE recipient = $1
ORDER BY sent_at_unix DESC
LIMIT $2
`, recipient, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("email_log.list.pgx: %w", queryErr)
	}
	defer rows.Close()
	entries := make([]emaillog.Entry, 0, limit)
	for rows.Next() {
		var entry emaillog.Entry
		var sentAtUnix int64
		scanErr := rows.Scan(
			&entry.EntryID,
			&entry.MessageID,
			&entry.Recipient,
			&entry.Subject,
			&entry.EmailType,
			&entry.StatusCode,
			&sentAtUnix,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("email_log.list.pgx: %w", scanErr)
		}
		entry.SentAt = time.Unix(sentAtUnix, 0).UTC()
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("email_log.list.pgx: %w", rowsErr)
	}
	return entries, nil
}

// Count returns the total number of recorded deliveries.
func (store *PostgresStore) Count(ctx context.Context) (int64, error) {
	var total int64
	row := store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM email_deliveries`)
	if scanErr := row.Scan(&total); scanErr != nil {
		return 0, fmt.Errorf("email_log.count.pgx: %w", scanErr)
	}
	return total, nil
}
