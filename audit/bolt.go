// Package audit provides an external, append-only mirror of the engine's
// audit log backed by bbolt.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/warp/bookkeeping-engine/books"
)

// Bucket names.
const (
	BucketEntries = "audit_entries"
)

// BoltSink implements books.AuditSink. Entries are keyed by a bucket
// sequence so iteration order is append order.
type BoltSink struct {
	db *bolt.DB
}

var _ books.AuditSink = (*BoltSink)(nil)

// record is the stored JSON shape of one entry.
type record struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Open opens (or creates) the bbolt file and its bucket.
func Open(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketEntries)); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", BucketEntries, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltSink{db: db}, nil
}

// Close closes the database.
func (s *BoltSink) Close() error {
	return s.db.Close()
}

// Append stores entry under the bucket's next sequence number.
func (s *BoltSink) Append(_ context.Context, entry books.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketEntries))
		if b == nil {
			return fmt.Errorf("bucket %s not found", BucketEntries)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(record{
			Seq:        seq,
			ID:         entry.ID,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Action:     string(entry.Action),
			ActorID:    entry.ActorID,
			Details:    entry.Details,
			Timestamp:  entry.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		return b.Put(itob(seq), data)
	})
}

// List returns the stored entries matching filter, newest first.
func (s *BoltSink) List(_ context.Context, filter books.AuditFilter) ([]books.AuditEntry, error) {
	var entries []books.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketEntries))
		if b == nil {
			return fmt.Errorf("bucket %s not found", BucketEntries)
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode audit entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if filter.EntityType != "" && r.EntityType != filter.EntityType {
				continue
			}
			if filter.EntityID != "" && r.EntityID != filter.EntityID {
				continue
			}
			entries = append(entries, books.AuditEntry{
				ID:         r.ID,
				EntityType: r.EntityType,
				EntityID:   r.EntityID,
				Action:     books.AuditAction(r.Action),
				ActorID:    r.ActorID,
				Details:    r.Details,
				Timestamp:  r.Timestamp,
			})
			if filter.Limit > 0 && len(entries) == filter.Limit {
				break
			}
		}
		return nil
	})

	return entries, err
}

// itob converts a sequence number to a byte slice for use as a bbolt key.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
