package downloader_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbzgrab/qbzgrab/qobuz/api"
	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/downloader"
	"github.com/qbzgrab/qbzgrab/qobuz/fs"
	"github.com/qbzgrab/qbzgrab/qobuz/tagger"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

type fakeCreds struct {
	mu          sync.Mutex
	ensureCalls int
	invalidates int
	generation  int
}

func (f *fakeCreds) EnsureValid(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++

	return &auth.Credentials{
		AppID:      "app-id",
		AppSecret:  "secret-" + strconv.Itoa(f.generation),
		Discovered: true,
	}, nil
}

func (f *fakeCreds) Invalidate(logger zerolog.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidates++
	f.generation++
}

func (f *fakeCreds) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.ensureCalls, f.invalidates
}

// fakeCatalog serves a fixed album and delegates resolution to a per-track
// function keyed by attempt count.
type fakeCatalog struct {
	album   *types.AlbumMeta
	resolve func(creds *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error)

	mu       sync.Mutex
	attempts map[string]int
}

func (f *fakeCatalog) GetTrack(
	ctx context.Context, logger zerolog.Logger, creds *auth.Credentials, trackID string,
) (*types.MetadataBundle, error) {
	for _, track := range f.album.Tracks {
		if track.CatalogTrackID == trackID {
			return &track, nil
		}
	}

	return nil, api.ErrNotFound
}

func (f *fakeCatalog) GetAlbum(
	ctx context.Context, logger zerolog.Logger, creds *auth.Credentials, albumID string,
) (*types.AlbumMeta, error) {
	return f.album, nil
}

func (f *fakeCatalog) Resolve(
	ctx context.Context, logger zerolog.Logger, creds *auth.Credentials, trackID string, requested types.Tier,
) (*types.ResolvedTrack, error) {
	f.mu.Lock()
	if nil == f.attempts {
		f.attempts = make(map[string]int)
	}
	f.attempts[trackID]++
	attempt := f.attempts[trackID]
	f.mu.Unlock()

	return f.resolve(creds, trackID, attempt)
}

type nopEmbedder struct {
	mu    sync.Mutex
	calls []string
}

func (e *nopEmbedder) Embed(
	ctx context.Context, logger zerolog.Logger, path string, tier types.Tier, meta *types.MetadataBundle,
) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, meta.CatalogTrackID)

	return nil
}

func testAlbum(trackCount int) *types.AlbumMeta {
	album := &types.AlbumMeta{
		ID:     "al-1",
		Title:  "Test Album",
		Artist: "Test Artist",
		Tracks: make([]types.MetadataBundle, 0, trackCount),
	}
	for i := 1; i <= trackCount; i++ {
		album.Tracks = append(album.Tracks, types.MetadataBundle{ //nolint:exhaustruct
			Title:          fmt.Sprintf("Track %02d", i),
			Album:          album.Title,
			AlbumArtist:    album.Artist,
			TrackNumber:    i,
			DiscNumber:     1,
			TotalTracks:    trackCount,
			TotalDiscs:     1,
			CatalogTrackID: strconv.Itoa(i),
			CatalogAlbumID: album.ID,
		})
	}

	return album
}

func resolvedFor(trackID string, tier types.Tier, url string) *types.ResolvedTrack {
	return &types.ResolvedTrack{
		TrackID:       trackID,
		RequestedTier: tier,
		DeliveredTier: tier,
		URL:           url,
		ExpiresAt:     time.Now().Add(time.Minute),
	}
}

func newStreamServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "audio-%s", filepath.Base(r.URL.Path))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func newDownloader(
	catalog downloader.Catalog,
	creds downloader.CredentialSource,
	dir string,
	conf downloader.Config,
) (*downloader.Downloader, *nopEmbedder) {
	embed := &nopEmbedder{} //nolint:exhaustruct

	return downloader.New(catalog, creds, embed, fs.DownloadDirFrom(dir), conf), embed
}

func TestDownloadAlbumOrderedResults(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(10),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	dir := t.TempDir()
	d, embed := newDownloader(catalog, creds, dir, downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       2,
		TrackConcurrency: 4,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 10)

	for i, res := range results {
		assert.Equal(t, strconv.Itoa(i+1), res.TrackID)
		assert.Equal(t, types.OutcomeSuccess, res.Outcome)
		assert.NotEmpty(t, res.Path)

		content, err := os.ReadFile(res.Path)
		require.NoError(t, err)
		assert.Equal(t, "audio-"+res.TrackID, string(content))
	}

	ensures, invalidates := creds.counts()
	assert.Equal(t, 1, ensures, "credentials must be validated exactly once per album")
	assert.Zero(t, invalidates)
	assert.Len(t, embed.calls, 10)
}

func TestDownloadAlbumRecordsFailuresAndContinues(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(4),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			if trackID == "2" {
				return nil, api.ErrNotFound
			}

			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       1,
		TrackConcurrency: 2,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, types.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, types.OutcomeFailed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, api.ErrNotFound)
	assert.Equal(t, types.OutcomeSuccess, results[2].Outcome)
	assert.Equal(t, types.OutcomeSuccess, results[3].Outcome)
}

func TestDownloadAlbumQualityFallbackIsPartialSuccess(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(1),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return &types.ResolvedTrack{
				TrackID:       trackID,
				RequestedTier: types.TierFLACHiRes192,
				DeliveredTier: types.TierFLACLossless,
				URL:           srv.URL + "/stream/" + trackID,
				ExpiresAt:     time.Now().Add(time.Minute),
			}, nil
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierFLACHiRes192,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       0,
		TrackConcurrency: 1,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomePartialSuccess, results[0].Outcome)
	assert.Equal(t, types.TierFLACHiRes192, results[0].RequestedTier)
	assert.Equal(t, types.TierFLACLossless, results[0].DeliveredTier)
	assert.NotEmpty(t, results[0].Path)
}

func TestDownloadTransientFailureIsRetried(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(1),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			if attempt == 1 {
				return nil, fmt.Errorf("%w: upstream hiccup", api.ErrTransient)
			}

			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       2,
		TrackConcurrency: 1,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, 2, catalog.attempts["1"])
}

func TestDownloadFailureLeavesNoPartialFile(t *testing.T) {
	t.Parallel()

	// The stream dies mid-body: Content-Length promises more than is sent.
	mux := http.NewServeMux()
	mux.HandleFunc("/stream/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte("partial"))

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(1),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	dir := t.TempDir()
	d, _ := newDownloader(catalog, creds, dir, downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       1,
		TrackConcurrency: 1,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomeFailed, results[0].Outcome)
	require.Error(t, results[0].Err)

	// Neither the destination nor any staged temp file may survive.
	var leftovers []string
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if nil != err {
			return err
		}
		if !info.IsDir() {
			leftovers = append(leftovers, path)
		}

		return nil
	}))
	assert.Empty(t, leftovers)
}

func TestDownloadAlbumCancellationCutsPacingSleepShort(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(1),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       0,
		TrackConcurrency: 1,
	})

	// Cancel while the worker sits in the inter-track pacing pause, which is
	// always at least a second long.
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := d.DownloadAlbum(ctx, zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomeFailed, results[0].Outcome)
	assert.Less(t, time.Since(start), 800*time.Millisecond)
}

type failingEmbedder struct {
	err error
}

func (e *failingEmbedder) Embed(
	ctx context.Context, logger zerolog.Logger, path string, tier types.Tier, meta *types.MetadataBundle,
) error {
	return e.err
}

func TestTagWriteFailureKeepsCommittedAudio(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(1),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	dir := t.TempDir()
	embed := &failingEmbedder{err: fmt.Errorf("%w: corrupt container", tagger.ErrTagWrite)}
	d := downloader.New(catalog, creds, embed, fs.DownloadDirFrom(dir), downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       2,
		TrackConcurrency: 1,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, types.OutcomeFailed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, tagger.ErrTagWrite)

	// The audio survived the failed tag write: it stays on disk untagged.
	require.NotEmpty(t, results[0].Path)
	content, readErr := os.ReadFile(results[0].Path)
	require.NoError(t, readErr)
	assert.Equal(t, "audio-1", string(content))

	// No retry: the committed file must not be re-downloaded.
	assert.Equal(t, 1, catalog.attempts["1"])
}

func TestDownloadAlbumAuthFailureRefreshesOnceThenRetries(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(3),
		resolve: func(c *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			// The first credential generation is expired for every track.
			if c.AppSecret == "secret-0" {
				return nil, api.ErrAuthRequired
			}

			return resolvedFor(trackID, types.TierFLACLossless, srv.URL+"/stream/"+trackID), nil
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       0,
		TrackConcurrency: 1,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	}

	_, invalidates := creds.counts()
	assert.Equal(t, 1, invalidates, "the album scope allows exactly one credential refresh")
}

func TestDownloadAlbumSecondAuthFailureAborts(t *testing.T) {
	t.Parallel()

	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(5),
		resolve: func(c *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return nil, api.ErrAuthRequired
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierFLACLossless,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       0,
		TrackConcurrency: 1,
	})

	results, err := d.DownloadAlbum(t.Context(), zerolog.Nop(), "al-1")
	require.ErrorIs(t, err, downloader.ErrAlbumAborted)
	require.Len(t, results, 5)

	for _, res := range results {
		assert.Equal(t, types.OutcomeFailed, res.Outcome)
	}

	_, invalidates := creds.counts()
	assert.Equal(t, 1, invalidates)
}

func TestDownloadTrackSingle(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t)
	creds := &fakeCreds{} //nolint:exhaustruct
	catalog := &fakeCatalog{ //nolint:exhaustruct
		album: testAlbum(2),
		resolve: func(_ *auth.Credentials, trackID string, attempt int) (*types.ResolvedTrack, error) {
			return resolvedFor(trackID, types.TierMP3320, srv.URL+"/stream/"+trackID), nil
		},
	}

	d, _ := newDownloader(catalog, creds, t.TempDir(), downloader.Config{
		Quality:          types.TierMP3320,
		ChunkTimeout:     5 * time.Second,
		MaxRetries:       0,
		TrackConcurrency: 1,
	})

	result, err := d.DownloadTrack(t.Context(), zerolog.Nop(), "2")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Contains(t, result.Path, "02. Track 02.mp3")
}
