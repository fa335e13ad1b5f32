// Package ledger keeps a local history of build runs and audit attempts.
// The history is advisory: shard presence, resume, and repair decisions are
// made from the file system alone and never consult it.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"golang.org/x/xerrors"
)

const (
	buildNamespace = "build:"
	auditNamespace = "audit:"
)

// BuildRecord describes one completed build pass.
type BuildRecord struct {
	Address     string    `json:"address"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	FirstHeight int       `json:"first_height"`
	LastHeight  int       `json:"last_height"`
	Generated   int       `json:"generated"`
}

// AuditRecord describes one audit attempt. Proof is empty when OK is false.
type AuditRecord struct {
	Address   string    `json:"address"`
	Height    int       `json:"height"`
	BlockHash string    `json:"block_hash"`
	Proof     string    `json:"proof"`
	OK        bool      `json:"ok"`
	At        time.Time `json:"at"`
}

type Ledger struct {
	db *badger.DB
}

func Open(dir string) (*Ledger, error) {
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = true
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Errorf("failed to open ledger at %s: %w", dir, err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) put(namespace string, at time.Time, v interface{}) error {
	key := []byte(fmt.Sprintf("%s%020d", namespace, at.UnixNano()))
	data, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to encode ledger record: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (l *Ledger) PutBuild(r BuildRecord) error {
	return l.put(buildNamespace, r.FinishedAt, r)
}

func (l *Ledger) PutAudit(r AuditRecord) error {
	return l.put(auditNamespace, r.At, r)
}

func (l *Ledger) list(namespace string, decode func(val []byte) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(namespace)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

// Builds returns all build records in chronological order.
func (l *Ledger) Builds() ([]BuildRecord, error) {
	var out []BuildRecord
	err := l.list(buildNamespace, func(val []byte) error {
		var r BuildRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// Audits returns all audit records in chronological order.
func (l *Ledger) Audits() ([]AuditRecord, error) {
	var out []AuditRecord
	err := l.list(auditNamespace, func(val []byte) error {
		var r AuditRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}
