package emaillogpg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS email_deliveries (
    entry_id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL DEFAULT '',
    recipient TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    email_type TEXT NOT NULL DEFAULT 'general',
    status_code INT NOT NULL DEFAULT 0,
    sent_at_unix BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_email_deliveries_recipient ON email_deliveries (recipient);
CREATE INDEX IF NOT EXISTS idx_email_deliveries_sent_at ON email_deliveries (sent_at_unix);
`)
	return err
}
