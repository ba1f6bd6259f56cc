// Package emaillog records every transactional email the gateway
// proxies, for support and abuse review.
package emaillog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyRecipient indicates an entry without a recipient address.
	ErrEmptyRecipient = errors.New("email_log.empty_recipient")
)

// Entry is one recorded delivery.
type Entry struct {
	EntryID    string
	MessageID  string
	Recipient  string
	Subject    string
	EmailType  string
	StatusCode int
	SentAt     time.Time
}

// Store persists delivery entries.
type Store interface {
	// Record appends one delivery entry.
	Record(ctx context.Context, entry Entry) error
	// RecentByRecipient lists the newest entries for a recipient.
	RecentByRecipient(ctx context.Context, recipient string, limit int) ([]Entry, error)
	// Count returns the total number of recorded deliveries.
	Count(ctx context.Context) (int64, error)
}

// MemoryStore is an in-memory Store for tests and dev.
type MemoryStore struct {
	mutex   sync.Mutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends one delivery entry.
func (store *MemoryStore) Record(ctx context.Context, entry Entry) error {
	if entry.Recipient == "" {
		return ErrEmptyRecipient
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries = append(store.entries, entry)
	return nil
}

// RecentByRecipient lists the newest entries for a recipient.
func (store *MemoryStore) RecentByRecipient(ctx context.Context, recipient string, limit int) ([]Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	matched := make([]Entry, 0, limit)
	for index := len(store.entries) - 1; index >= 0 && len(matched) < limit; index-- {
		if store.entries[index].Recipient == recipient {
			matched = append(matched, store.entries[index])
		}
	}
	return matched, nil
}

// Count returns the total number of recorded deliveries.
func (store *MemoryStore) Count(ctx context.Context) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return int64(len(store.entries)), nil
}
