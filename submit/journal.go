package submit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var journalBucket = []byte("submissions")

// journalEntry is the durable record of a broadcast attempt. An entry is
// written before the first network send so a crash between send and
// acknowledgement can never lead to a re-send with different contents.
type journalEntry struct {
	Action    string `json:"action"`
	RawTxHash string `json:"rawTxHash"`
	TxID      string `json:"txId,omitempty"`
	Attempts  int    `json:"attempts"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Journal records submissions in a bbolt file keyed by action id.
type Journal struct {
	db *bolt.DB
}

// OpenJournal creates or opens the submission journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("submit: open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("submit: init journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the journal file.
func (j *Journal) Close() error { return j.db.Close() }

// Lookup returns the recorded entry for an action id, or nil when none
// exists.
func (j *Journal) Lookup(action string) (*journalEntry, error) {
	var entry *journalEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(journalBucket).Get([]byte(action))
		if raw == nil {
			return nil
		}
		entry = &journalEntry{}
		return json.Unmarshal(raw, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("submit: journal lookup %s: %w", action, err)
	}
	return entry, nil
}

// Record writes an entry under the action id, replacing any prior value.
func (j *Journal) Record(action string, entry *journalEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("submit: journal encode %s: %w", action, err)
	}
	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).Put([]byte(action), raw)
	})
	if err != nil {
		return fmt.Errorf("submit: journal write %s: %w", action, err)
	}
	return nil
}
