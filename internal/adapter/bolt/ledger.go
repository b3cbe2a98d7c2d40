// Package bolt persists the alert ledger: the set of (event, task) pairs that
// have already produced an alert, so a restart never alerts twice.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

var bucketAlerts = []byte("alerts") // key=domain.AlertKey, val=alert record json

// Ledger is a bbolt-backed alert ledger.
type Ledger struct {
	db *bbolt.DB
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open alert ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketAlerts)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init alert ledger %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Claim records rec under key unless the key is already present. It reports
// whether this call inserted the record.
func (l *Ledger) Claim(key []byte, rec domain.AlertRecord) (bool, error) {
	val, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode ledger entry: %w", err)
	}
	claimed := false
	err = l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		if b.Get(key) != nil {
			return nil
		}
		claimed = true
		return b.Put(key, val)
	})
	if err != nil {
		return false, fmt.Errorf("write ledger entry: %w", err)
	}
	return claimed, nil
}

// Release removes key, so a later Claim can succeed. Used when the alert
// could not be written after it was claimed.
func (l *Ledger) Release(key []byte) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlerts).Delete(key)
	})
}

// Get returns the record stored under key.
func (l *Ledger) Get(key []byte) (domain.AlertRecord, bool, error) {
	var (
		rec   domain.AlertRecord
		found bool
	)
	err := l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAlerts).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	return rec, found, err
}

// Len returns the number of recorded alerts.
func (l *Ledger) Len() (int, error) {
	n := 0
	err := l.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketAlerts).Stats().KeyN
		return nil
	})
	return n, err
}
