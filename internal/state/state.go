// Package state persists the client's local state in a single BoltDB file.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/dealsafe/internal/session"
	"github.com/zombor/dealsafe/internal/voucher"
)

const (
	sessionBucketName  = "session"
	voucherBucketName  = "vouchers"
	settingsBucketName = "settings"

	tokenKey    = "dealsafe_auth_token"
	userKey     = "dealsafe_user"
	snapshotKey = "snapshot"
)

// BoltDB implements session.Store, voucher.Cache and notify.Flags
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the state file
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{sessionBucketName, voucherBucketName, settingsBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// GetSession returns the stored session; both token and user must be present
func (b *BoltDB) GetSession() (session.Session, error) {
	var s session.Session
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucketName))
		token := bucket.Get([]byte(tokenKey))
		user := bucket.Get([]byte(userKey))
		if token == nil || user == nil {
			return session.ErrNoSession
		}
		s.Token = string(token)
		return json.Unmarshal(user, &s.User)
	})
	if err != nil {
		return session.Session{}, err
	}
	return s, nil
}

// SetSession saves the token and user
func (b *BoltDB) SetSession(s session.Session) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucketName))
		data, err := json.Marshal(s.User)
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		if err := bucket.Put([]byte(tokenKey), []byte(s.Token)); err != nil {
			return err
		}
		return bucket.Put([]byte(userKey), data)
	})
}

// ClearSession removes the token and user
func (b *BoltDB) ClearSession() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucketName))
		if err := bucket.Delete([]byte(tokenKey)); err != nil {
			return err
		}
		return bucket.Delete([]byte(userKey))
	})
}

// SaveVouchers replaces the persisted voucher snapshot
func (b *BoltDB) SaveVouchers(vouchers []voucher.Voucher) error {
	if vouchers == nil {
		vouchers = []voucher.Voucher{}
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(voucherBucketName))
		data, err := json.Marshal(vouchers)
		if err != nil {
			return fmt.Errorf("marshaling vouchers: %w", err)
		}
		return bucket.Put([]byte(snapshotKey), data)
	})
}

// LoadVouchers returns the persisted snapshot, empty if none was saved
func (b *BoltDB) LoadVouchers() ([]voucher.Voucher, error) {
	vouchers := make([]voucher.Voucher, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(voucherBucketName)).Get([]byte(snapshotKey))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &vouchers); err != nil {
			return fmt.Errorf("unmarshaling vouchers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vouchers, nil
}

// Flag reports whether a boolean setting has been recorded as true
func (b *BoltDB) Flag(key string) (bool, error) {
	var set bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		set = string(tx.Bucket([]byte(settingsBucketName)).Get([]byte(key))) == "true"
		return nil
	})
	return set, err
}

// SetFlag records a boolean setting as true
func (b *BoltDB) SetFlag(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucketName)).Put([]byte(key), []byte("true"))
	})
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}
