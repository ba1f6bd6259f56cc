package emaillog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("email_log.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("email_log.empty_database_url")
	errSQLiteEmptyPath     = errors.New("email_log.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("email_log.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("email_log.unsupported_no_scheme")
)

// DatabaseStore persists delivery entries using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

type deliveryRecord struct {
	EntryID    string `gorm:"column:entry_id;primaryKey"`
	MessageID  string `gorm:"column:message_id;index;not null;default:''"`
	Recipient  string `gorm:"column:recipient;index;not null"`
	Subject    string `gorm:"column:subject;not null;default:''"`
	EmailType  string `gorm:"column:email_type;not null;default:'general'"`
	StatusCode int    `gorm:"column:status_code;not null;default:0"`
	SentAtUnix int64  `gorm:"column:sent_at_unix;index;not null"`
}

func (deliveryRecord) TableName() string {
	return "email_deliveries"
}

// NewDatabaseStore constructs a GORM-backed store for a postgres:// or
// sqlite:// database URL.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("email_log.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("email_log.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&deliveryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("email_log.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Record appends one delivery entry.
func (store *DatabaseStore) Record(ctx context.Context, entry Entry) error {
	if entry.Recipient == "" {
		return fmt.Errorf("email_log.record.%s: %w", store.driverLabel, ErrEmptyRecipient)
	}
	entryID := entry.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}
	sentAt := entry.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	record := deliveryRecord{
		EntryID:    entryID,
		MessageID:  entry.MessageID,
		Recipient:  entry.Recipient,
		Subject:    entry.Subject,
		EmailType:  entry.EmailType,
		StatusCode: entry.StatusCode,
		SentAtUnix: sentAt.Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("email_log.record.%s: %w", store.driverLabel, err)
	}
	return nil
}

// RecentByRecipient lists the newest entries for a recipient.
func (store *DatabaseStore) RecentByRecipient(ctx context.Context, recipient string, limit int) ([]Entry, error) {
	var records []deliveryRecord
	err := store.db.WithContext(ctx).
		Where("recipient = ?", recipient).
		Order("sent_at_unix DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("email_log.list.%s: %w", store.driverLabel, err)
	}
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entries = append(entries, Entry{
			EntryID:    record.EntryID,
			MessageID:  record.MessageID,
			Recipient:  record.Recipient,
			Subject:    record.Subject,
			EmailType:  record.EmailType,
			StatusCode: record.StatusCode,
			SentAt:     time.Unix(record.SentAtUnix, 0).UTC(),
		})
	}
	return entries, nil
}

// Count returns the total number of recorded deliveries.
func (store *DatabaseStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := store.db.WithContext(ctx).Model(&deliveryRecord{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("email_log.count.%s: %w", store.driverLabel, err)
	}
	return total, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("email_log.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("email_log.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("email_log.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("email_log.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
