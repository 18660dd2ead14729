package creds

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hutchlabs/hutch/pkg/errdefs"
)

var bucketCredentials = []byte("credentials")

// Login is a per-volume credential for the file-transfer subsystem
type Login struct {
	VolumeID  string    `json:"volumeId"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repository owns the volume-id -> login mapping and its persistence file.
// It is passed to collaborators explicitly; nothing reads it as ambient
// state.
type Repository struct {
	db *bolt.DB
}

// Open opens (or creates) the credential database at path
func Open(path string) (*Repository, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCredentials)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credential bucket: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}

// Get returns the login for a volume id
func (r *Repository) Get(volumeID string) (*Login, error) {
	var login Login
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(volumeID))
		if data == nil {
			return errdefs.NotFound("credentials for volume", volumeID)
		}
		return json.Unmarshal(data, &login)
	})
	if err != nil {
		return nil, err
	}
	return &login, nil
}

// Ensure creates a login for the volume if none exists. Idempotent.
func (r *Repository) Ensure(volumeID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b.Get([]byte(volumeID)) != nil {
			return nil
		}

		password, err := randomToken(24)
		if err != nil {
			return err
		}
		now := time.Now()
		login := Login{
			VolumeID:  volumeID,
			Username:  volumeID,
			Password:  password,
			CreatedAt: now,
			UpdatedAt: now,
		}
		data, err := json.Marshal(&login)
		if err != nil {
			return err
		}
		return b.Put([]byte(volumeID), data)
	})
}

// Reset rotates the password for a volume and returns the new login
func (r *Repository) Reset(volumeID string) (*Login, error) {
	var login Login
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(volumeID))
		if data == nil {
			return errdefs.NotFound("credentials for volume", volumeID)
		}
		if err := json.Unmarshal(data, &login); err != nil {
			return err
		}

		password, err := randomToken(24)
		if err != nil {
			return err
		}
		login.Password = password
		login.UpdatedAt = time.Now()

		updated, err := json.Marshal(&login)
		if err != nil {
			return err
		}
		return b.Put([]byte(volumeID), updated)
	})
	if err != nil {
		return nil, err
	}
	return &login, nil
}

// Revoke deletes the login for a volume. Revoking an absent login is a
// no-op.
func (r *Repository) Revoke(volumeID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(volumeID))
	})
}

// randomToken returns a hex-encoded cryptographically random token
func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
