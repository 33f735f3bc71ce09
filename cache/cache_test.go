package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbzgrab/qbzgrab/cache"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

func TestCoversFetchMemoizes(t *testing.T) {
	t.Parallel()

	c := cache.New()

	var calls int
	fetch := func() ([]byte, error) {
		calls++

		return []byte("cover-bytes"), nil
	}

	for range 3 {
		item, err := c.Covers.Fetch("https://static.example/cover_org.jpg", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, []byte("cover-bytes"), item.Value())
	}

	assert.Equal(t, 1, calls)
}

func TestAlbumsMetaFetchMemoizes(t *testing.T) {
	t.Parallel()

	c := cache.New()

	var calls int
	fetch := func() (*types.AlbumMeta, error) {
		calls++

		return &types.AlbumMeta{ //nolint:exhaustruct
			ID:    "al-1",
			Title: "Memoized",
		}, nil
	}

	for range 2 {
		item, err := c.AlbumsMeta.Fetch("al-1", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "Memoized", item.Value().Title)
	}

	assert.Equal(t, 1, calls)
}

func TestFetchFailureIsNotCached(t *testing.T) {
	t.Parallel()

	c := cache.New()

	boom := errors.New("upstream down")
	_, err := c.AlbumsMeta.Fetch("al-err", time.Minute, func() (*types.AlbumMeta, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	item, err := c.AlbumsMeta.Fetch("al-err", time.Minute, func() (*types.AlbumMeta, error) {
		return &types.AlbumMeta{ID: "al-err", Title: "Recovered"}, nil //nolint:exhaustruct
	})
	require.NoError(t, err)
	assert.Equal(t, "Recovered", item.Value().Title)
}
