// Package auth owns the application credential lifecycle: explicit
// credentials from configuration, discovered credentials from the public web
// player bundle, and the validity state machine shared by all concurrent
// downloads.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var ErrNoCredentials = errors.New("no valid application credentials available")

type State int

const (
	// StateUnvalidated credentials exist but have not been proven against the
	// catalog yet. Explicit credentials are trusted from this state without a
	// probe.
	StateUnvalidated State = iota
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnvalidated:
		return "unvalidated"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Credentials identify this client to the catalog. The secret never appears
// in logs.
type Credentials struct {
	AppID      string
	AppSecret  string
	Discovered bool
}

// DiscoverFunc produces fresh credentials, typically by scraping the web
// player bundle. It must only return credentials it has proven to work.
type DiscoverFunc func(ctx context.Context, logger zerolog.Logger) (*Credentials, error)

type Options struct {
	// AppID and AppSecret are the operator-provided credentials. Both empty
	// means discovery-only operation.
	AppID     string
	AppSecret string
	// Store persists discovered credentials across runs. Nil disables
	// persistence.
	Store    *Store
	Discover DiscoverFunc
	Timeout  time.Duration
}

// Manager serializes credential validation: any number of goroutines may call
// EnsureValid concurrently and at most one discovery runs at a time, with all
// callers sharing its outcome.
type Manager struct {
	explicit *Credentials
	store    *Store
	discover DiscoverFunc

	mux    sync.RWMutex
	state  State
	creds  *Credentials
	flight singleflight.Group
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		explicit: nil,
		store:    opts.Store,
		discover: opts.Discover,
		mux:      sync.RWMutex{},
		state:    StateUnvalidated,
		creds:    nil,
		flight:   singleflight.Group{},
	}
	if opts.AppID != "" && opts.AppSecret != "" {
		m.explicit = &Credentials{
			AppID:      opts.AppID,
			AppSecret:  opts.AppSecret,
			Discovered: false,
		}
	}
	if nil == m.discover {
		m.discover = NewWebDiscoverer(opts.Timeout).Discover
	}

	return m
}

// State returns the current lifecycle state. Meant for logging and tests, not
// for control flow: callers race the next transition the moment it returns.
func (m *Manager) State() State {
	m.mux.RLock()
	defer m.mux.RUnlock()

	return m.state
}

// EnsureValid returns credentials in the Valid state, running at most one
// validation or discovery regardless of how many goroutines call it
// concurrently. It never mutates state on behalf of API failures; callers
// observing an authentication failure must report it through Invalidate.
func (m *Manager) EnsureValid(ctx context.Context, logger zerolog.Logger) (*Credentials, error) {
	m.mux.RLock()
	if m.state == StateValid {
		creds := m.creds
		m.mux.RUnlock()

		return creds, nil
	}
	m.mux.RUnlock()

	v, err, _ := m.flight.Do("credentials", func() (any, error) {
		creds, err := m.validate(ctx, logger)
		if nil != err {
			return nil, err
		}

		return creds, nil
	})
	if nil != err {
		return nil, fmt.Errorf("ensure valid credentials: %w", err)
	}

	return v.(*Credentials), nil //nolint:forcetypeassert
}

// Invalidate marks the current credentials unusable. The next EnsureValid
// call triggers rediscovery. Idempotent.
func (m *Manager) Invalidate(logger zerolog.Logger) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.state == StateInvalid {
		return
	}

	logger.Warn().Str("previous_state", m.state.String()).Msg("Invalidating application credentials")
	m.state = StateInvalid
}

func (m *Manager) validate(ctx context.Context, logger zerolog.Logger) (*Credentials, error) {
	m.mux.RLock()
	state := m.state
	creds := m.creds
	m.mux.RUnlock()

	// A caller that queued behind the winning flight sees its result here.
	if state == StateValid {
		return creds, nil
	}

	if state == StateUnvalidated {
		if nil != m.explicit {
			logger.Debug().Str("app_id", m.explicit.AppID).Msg("Using explicit application credentials")
			m.promote(m.explicit)

			return m.explicit, nil
		}

		if nil != m.store {
			stored, err := m.store.Load()
			if nil != err {
				logger.Warn().Err(err).Msg("Failed to load stored credentials. Falling back to discovery")
			} else if nil != stored {
				logger.Debug().Str("app_id", stored.AppID).Msg("Using stored application credentials")
				m.promote(stored)

				return stored, nil
			}
		}
	}

	fresh, err := m.discover(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("discover credentials: %w", err)
	}

	if nil != m.store {
		if err := m.store.Save(fresh); nil != err {
			logger.Warn().Err(err).Msg("Failed to persist discovered credentials")
		}
	}

	logger.Info().Str("app_id", fresh.AppID).Msg("Discovered fresh application credentials")
	m.promote(fresh)

	return fresh, nil
}

func (m *Manager) promote(creds *Credentials) {
	m.mux.Lock()
	defer m.mux.Unlock()

	m.state = StateValid
	m.creds = creds
}
