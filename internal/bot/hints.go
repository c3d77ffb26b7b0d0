package bot

import (
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const hintBucket = "hints"

// HintStore keeps the last free-text hint per chat so a hint sent before the
// invoice image survives a restart. Extracted invoices are never stored.
type HintStore interface {
	// Save stores the hint for a chat, replacing any previous one.
	Save(chatID int64, hint string) error

	// Get returns the stored hint, or "" when none is set.
	Get(chatID int64) (string, error)

	// Clear removes the stored hint.
	Clear(chatID int64) error

	// Close closes the store.
	Close() error
}

// BoltHintStore implements HintStore using BoltDB.
type BoltHintStore struct {
	db *bbolt.DB
}

// NewBoltHintStore opens (or creates) the hint database at path.
func NewBoltHintStore(path string) (*BoltHintStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(hintBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltHintStore{db: db}, nil
}

func (s *BoltHintStore) Save(chatID int64, hint string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(hintBucket)).Put(chatKey(chatID), []byte(hint))
	})
	if err != nil {
		return fmt.Errorf("saving hint: %w", err)
	}
	return nil
}

func (s *BoltHintStore) Get(chatID int64) (string, error) {
	var hint string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(hintBucket)).Get(chatKey(chatID)); v != nil {
			hint = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("getting hint: %w", err)
	}
	return hint, nil
}

func (s *BoltHintStore) Clear(chatID int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(hintBucket)).Delete(chatKey(chatID))
	})
	if err != nil {
		return fmt.Errorf("clearing hint: %w", err)
	}
	return nil
}

func (s *BoltHintStore) Close() error {
	return s.db.Close()
}

func chatKey(chatID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10))
}
