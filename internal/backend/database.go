package backend

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	usersBucket      = "users"
	phonesBucket     = "phones"
	otpsBucket       = "otps"
	tokensBucket     = "tokens"
	vouchersBucket   = "vouchers"
	pushTokensBucket = "push_tokens"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for backend persistence
type DB interface {
	// SaveUser inserts or updates a user, assigning an ID to new users
	SaveUser(user *User) error
	GetUser(id int64) (*User, error)
	GetUserByPhone(phone string) (*User, error)
	// DeleteUser removes the user with their tokens, vouchers and push tokens
	DeleteUser(id int64) error

	SaveOTP(key string, otp *OTP) error
	GetOTP(key string) (*OTP, error)
	DeleteOTP(key string) error

	SaveToken(token string, userID int64) error
	// GetToken returns the user ID a token was issued to
	GetToken(token string) (int64, error)

	// SaveVoucher inserts or updates a voucher, assigning an ID to new ones
	SaveVoucher(record *Record) error
	GetVoucher(id int64) (*Record, error)
	ListVouchers(userID int64) ([]*Record, error)
	DeleteVoucher(id int64) error

	SavePushToken(token *PushToken) error
	ListPushTokens(userID int64) ([]*PushToken, error)

	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{usersBucket, phonesBucket, otpsBucket, tokensBucket, vouchersBucket, pushTokensBucket} {
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

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func put(tx *bbolt.Tx, bucket string, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put(key, data)
}

func get(tx *bbolt.Tx, bucket string, key []byte, out any) error {
	data := tx.Bucket([]byte(bucket)).Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

// SaveUser saves a user to the database
func (b *BoltDB) SaveUser(user *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if user.ID == 0 {
			seq, err := tx.Bucket([]byte(usersBucket)).NextSequence()
			if err != nil {
				return fmt.Errorf("allocating user id: %w", err)
			}
			user.ID = int64(seq)
		}
		if err := put(tx, usersBucket, itob(user.ID), user); err != nil {
			return err
		}
		return tx.Bucket([]byte(phonesBucket)).Put([]byte(user.PhoneNumber), itob(user.ID))
	})
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(id int64) (*User, error) {
	var user User
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, usersBucket, itob(id), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByPhone retrieves a user by phone number
func (b *BoltDB) GetUserByPhone(phone string) (*User, error) {
	var user User
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(phonesBucket)).Get([]byte(phone))
		if id == nil {
			return ErrNotFound
		}
		return get(tx, usersBucket, id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user and everything they own
func (b *BoltDB) DeleteUser(id int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var user User
		if err := get(tx, usersBucket, itob(id), &user); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(phonesBucket)).Delete([]byte(user.PhoneNumber)); err != nil {
			return err
		}
		if err := deleteWhere(tx, tokensBucket, func(v []byte) bool { return btoi(v) == id }); err != nil {
			return err
		}
		if err := deleteWhere(tx, vouchersBucket, ownedBy(id)); err != nil {
			return err
		}
		if err := deleteWhere(tx, pushTokensBucket, ownedBy(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(usersBucket)).Delete(itob(id))
	})
}

// ownedBy matches JSON records carrying user_id
func ownedBy(userID int64) func(v []byte) bool {
	return func(v []byte) bool {
		var probe struct {
			UserID int64 `json:"user_id"`
		}
		if err := json.Unmarshal(v, &probe); err != nil {
			return false
		}
		return probe.UserID == userID
	}
}

func deleteWhere(tx *bbolt.Tx, bucket string, match func(v []byte) bool) error {
	bkt := tx.Bucket([]byte(bucket))
	var keys [][]byte
	err := bkt.ForEach(func(k, v []byte) error {
		if match(v) {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := bkt.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// SaveOTP stores a pending code under key
func (b *BoltDB) SaveOTP(key string, otp *OTP) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, otpsBucket, []byte(key), otp)
	})
}

// GetOTP retrieves a pending code
func (b *BoltDB) GetOTP(key string) (*OTP, error) {
	var otp OTP
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, otpsBucket, []byte(key), &otp)
	})
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

// DeleteOTP removes a pending code
func (b *BoltDB) DeleteOTP(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(otpsBucket)).Delete([]byte(key))
	})
}

// SaveToken stores a session token
func (b *BoltDB) SaveToken(token string, userID int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tokensBucket)).Put([]byte(token), itob(userID))
	})
}

// GetToken resolves a session token
func (b *BoltDB) GetToken(token string) (int64, error) {
	var userID int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(tokensBucket)).Get([]byte(token))
		if v == nil {
			return ErrNotFound
		}
		userID = btoi(v)
		return nil
	})
	return userID, err
}

// SaveVoucher saves a voucher to the database
func (b *BoltDB) SaveVoucher(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if record.ID == 0 {
			seq, err := tx.Bucket([]byte(vouchersBucket)).NextSequence()
			if err != nil {
				return fmt.Errorf("allocating voucher id: %w", err)
			}
			record.ID = int64(seq)
		}
		return put(tx, vouchersBucket, itob(record.ID), record)
	})
}

// GetVoucher retrieves a voucher by ID
func (b *BoltDB) GetVoucher(id int64) (*Record, error) {
	var record Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, vouchersBucket, itob(id), &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListVouchers returns a user's vouchers in ID order
func (b *BoltDB) ListVouchers(userID int64) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(vouchersBucket)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling voucher: %w", err)
			}
			if record.UserID == userID {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteVoucher removes a voucher from the database
func (b *BoltDB) DeleteVoucher(id int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(vouchersBucket)).Delete(itob(id))
	})
}

// SavePushToken stores a push registration, replacing one with the same token
func (b *BoltDB) SavePushToken(token *PushToken) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, pushTokensBucket, []byte(token.Token), token)
	})
}

// ListPushTokens returns a user's push registrations
func (b *BoltDB) ListPushTokens(userID int64) ([]*PushToken, error) {
	tokens := make([]*PushToken, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pushTokensBucket)).ForEach(func(k, v []byte) error {
			var token PushToken
			if err := json.Unmarshal(v, &token); err != nil {
				return fmt.Errorf("unmarshaling push token: %w", err)
			}
			if token.UserID == userID {
				tokens = append(tokens, &token)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
