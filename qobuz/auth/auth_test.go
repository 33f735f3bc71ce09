package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbzgrab/qbzgrab/qobuz/auth"
)

func TestEnsureValidExplicitCredentialsSkipDiscovery(t *testing.T) {
	t.Parallel()

	var discoveries atomic.Int64
	m := auth.NewManager(auth.Options{
		AppID:     "app-id",
		AppSecret: "app-secret",
		Discover: func(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
			discoveries.Add(1)
			return nil, errors.New("must not be called")
		},
	})

	creds, err := m.EnsureValid(t.Context(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "app-id", creds.AppID)
	assert.Equal(t, "app-secret", creds.AppSecret)
	assert.False(t, creds.Discovered)
	assert.Equal(t, auth.StateValid, m.State())
	assert.Zero(t, discoveries.Load())
}

func TestEnsureValidConcurrentCallersShareOneDiscovery(t *testing.T) {
	t.Parallel()

	var discoveries atomic.Int64
	release := make(chan struct{})
	m := auth.NewManager(auth.Options{
		Discover: func(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
			discoveries.Add(1)
			<-release
			return &auth.Credentials{AppID: "id", AppSecret: "secret", Discovered: true}, nil
		},
	})

	const callers = 16

	var wg sync.WaitGroup
	started := make(chan struct{}, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			started <- struct{}{}
			creds, err := m.EnsureValid(t.Context(), zerolog.Nop())
			assert.NoError(t, err)
			assert.Equal(t, "secret", creds.AppSecret)
		}()
	}
	for range callers {
		<-started
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), discoveries.Load())
	assert.Equal(t, auth.StateValid, m.State())
}

func TestEnsureValidAfterValidIsCheap(t *testing.T) {
	t.Parallel()

	var discoveries atomic.Int64
	m := auth.NewManager(auth.Options{
		Discover: func(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
			discoveries.Add(1)
			return &auth.Credentials{AppID: "id", AppSecret: "secret", Discovered: true}, nil
		},
	})

	for range 10 {
		_, err := m.EnsureValid(t.Context(), zerolog.Nop())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), discoveries.Load())
}

func TestInvalidateForcesRediscovery(t *testing.T) {
	t.Parallel()

	var discoveries atomic.Int64
	m := auth.NewManager(auth.Options{
		AppID:     "stale-id",
		AppSecret: "stale-secret",
		Discover: func(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
			discoveries.Add(1)
			return &auth.Credentials{AppID: "fresh-id", AppSecret: "fresh-secret", Discovered: true}, nil
		},
	})

	creds, err := m.EnsureValid(t.Context(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "stale-id", creds.AppID)

	m.Invalidate(zerolog.Nop())
	assert.Equal(t, auth.StateInvalid, m.State())

	creds, err = m.EnsureValid(t.Context(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "fresh-id", creds.AppID)
	assert.True(t, creds.Discovered)
	assert.Equal(t, int64(1), discoveries.Load())
}

func TestEnsureValidPropagatesDiscoveryFailure(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("bundle unreachable")
	m := auth.NewManager(auth.Options{
		Discover: func(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
			return nil, sentinel
		},
	})

	_, err := m.EnsureValid(t.Context(), zerolog.Nop())
	require.ErrorIs(t, err, sentinel)
	assert.NotEqual(t, auth.StateValid, m.State())
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.db")

	store, err := auth.OpenStore(path)
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	saved := &auth.Credentials{AppID: "id", AppSecret: "secret", Discovered: true}
	require.NoError(t, store.Save(saved))

	loaded, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.AppID, loaded.AppID)
	assert.Equal(t, saved.AppSecret, loaded.AppSecret)
	assert.True(t, loaded.Discovered)

	require.NoError(t, store.Reset())
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, store.Close())
}

func TestManagerUsesStoredCredentials(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.db")
	store, err := auth.OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	require.NoError(t, store.Save(&auth.Credentials{AppID: "stored-id", AppSecret: "stored-secret", Discovered: true}))

	var discoveries atomic.Int64
	m := auth.NewManager(auth.Options{
		Store: store,
		Discover: func(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
			discoveries.Add(1)
			return nil, errors.New("must not be called")
		},
	})

	creds, err := m.EnsureValid(t.Context(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "stored-id", creds.AppID)
	assert.Zero(t, discoveries.Load())
}
