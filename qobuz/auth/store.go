package auth

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var (
	credentialsBucket = []byte("credentials")
	credentialsKey    = []byte("app")
)

// Store persists discovered credentials across runs so a working secret
// survives restarts and rediscovery stays an exceptional event.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second}) //nolint:exhaustruct
	if nil != err {
		return nil, fmt.Errorf("open credentials store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); nil != err {
			return fmt.Errorf("create credentials bucket: %w", err)
		}

		return nil
	})
	if nil != err {
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("close credentials store: %w", err)
	}

	return nil
}

type storedCredentials struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	SavedAt   int64  `json:"saved_at"`
}

// Load returns the persisted credentials, or nil when none were saved.
func (s *Store) Load() (*Credentials, error) {
	var out *Credentials
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(credentialsBucket).Get(credentialsKey)
		if nil == raw {
			return nil
		}

		var stored storedCredentials
		if err := json.Unmarshal(raw, &stored); nil != err {
			return fmt.Errorf("decode stored credentials: %v", err)
		}

		out = &Credentials{
			AppID:      stored.AppID,
			AppSecret:  stored.AppSecret,
			Discovered: true,
		}

		return nil
	})
	if nil != err {
		return nil, err
	}

	return out, nil
}

func (s *Store) Save(creds *Credentials) error {
	raw, err := json.Marshal(storedCredentials{
		AppID:     creds.AppID,
		AppSecret: creds.AppSecret,
		SavedAt:   time.Now().Unix(),
	})
	if nil != err {
		return fmt.Errorf("encode credentials: %v", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(credentialsBucket).Put(credentialsKey, raw); nil != err {
			return fmt.Errorf("put credentials: %w", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("save credentials: %w", err)
	}

	return nil
}

// Reset drops the persisted credentials, forcing discovery on the next run.
func (s *Store) Reset() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(credentialsBucket).Delete(credentialsKey); nil != err {
			return fmt.Errorf("delete credentials: %w", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("reset credentials store: %w", err)
	}

	return nil
}
