// Package audit is an optional durable sink for the capability table's
// audit trail, backed by bbolt. The in-memory bounded ring inside
// internal/cap is always present; attaching a Store mirrors each record
// to disk so the trail survives the bounded ring's displacement and
// process restarts.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/splax-s/splax-os-sub001/internal/cap"
)

var bucketAudit = []byte("audit")

// Store persists audit records to a bbolt database, one bucket keyed by
// the record's sequence number. It implements cap.Sink.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Append persists one record, keyed by its sequence number in big-endian
// so bucket iteration is chronological.
func (s *Store) Append(rec cap.AuditRecord) error {
	data, err := json.Marshal(recordDoc{
		Seq:       rec.Seq,
		Op:        string(rec.Op),
		Token:     rec.Token.Bytes(),
		Actor:     uint64(rec.Actor),
		Resource:  rec.Resource.Type,
		ResID:     rec.Resource.ID,
		HasRes:    rec.HasResource,
		Result:    string(rec.Result),
		Timestamp: rec.Timestamp.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("audit: marshaling record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], rec.Seq)
		return tx.Bucket(bucketAudit).Put(key[:], data)
	})
}

// Count returns how many records have been persisted.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketAudit).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type recordDoc struct {
	Seq       uint64   `json:"seq"`
	Op        string   `json:"op"`
	Token     [32]byte `json:"token"`
	Actor     uint64   `json:"actor"`
	Resource  string   `json:"resource,omitempty"`
	ResID     uint64   `json:"resource_id,omitempty"`
	HasRes    bool     `json:"has_resource"`
	Result    string   `json:"result"`
	Timestamp int64    `json:"timestamp"`
}
