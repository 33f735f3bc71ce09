package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qbzgrab/qbzgrab/qobuz/api"
	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/fs"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
	"github.com/qbzgrab/qbzgrab/ratelimit"
)

// ErrAlbumAborted means credentials failed twice within one album scope, so
// the remaining tracks were not attempted.
var ErrAlbumAborted = errors.New("album download aborted after repeated credential failure")

// albumSession is the per-album credential scope: credentials are validated
// exactly once up front, and at most one invalidate-and-retry happens for the
// whole album regardless of how many tracks hit an auth failure concurrently.
type albumSession struct {
	source  CredentialSource
	creds   atomic.Pointer[auth.Credentials]
	mux     sync.Mutex
	retried bool
}

func newAlbumSession(
	ctx context.Context,
	logger zerolog.Logger,
	source CredentialSource,
) (*albumSession, error) {
	creds, err := source.EnsureValid(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("ensure valid credentials: %w", err)
	}

	s := &albumSession{
		source:  source,
		creds:   atomic.Pointer[auth.Credentials]{},
		mux:     sync.Mutex{},
		retried: false,
	}
	s.creds.Store(creds)

	return s, nil
}

func (s *albumSession) current() *auth.Credentials {
	return s.creds.Load()
}

// refresh invalidates and revalidates at most once per album. The first
// caller pays for rediscovery; concurrent and later callers share its
// outcome. The second auth failure surfaces as refreshed=false.
func (s *albumSession) refresh(
	ctx context.Context,
	logger zerolog.Logger,
	stale *auth.Credentials,
) (refreshed bool, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	// Another track already refreshed past the credentials this caller
	// failed with. Let it retry on the fresh ones without burning the
	// album's single refresh.
	if s.current() != stale {
		return true, nil
	}

	if s.retried {
		return false, nil
	}
	s.retried = true

	s.source.Invalidate(logger)
	fresh, err := s.source.EnsureValid(ctx, logger)
	if nil != err {
		return false, fmt.Errorf("revalidate credentials: %w", err)
	}
	s.creds.Store(fresh)

	return true, nil
}

// DownloadAlbum downloads every track of an album over a bounded worker
// pool. The returned results are in album track order, one per track, no
// matter which tracks failed. The error is only non-nil for album-level
// failures (metadata fetch, credential validation, repeated auth failure).
func (d *Downloader) DownloadAlbum(
	ctx context.Context,
	logger zerolog.Logger,
	albumID string,
) ([]types.DownloadResult, error) {
	session, err := newAlbumSession(ctx, logger, d.creds)
	if nil != err {
		return nil, err
	}

	album, err := d.catalog.GetAlbum(ctx, logger, session.current(), albumID)
	if nil != err {
		return nil, fmt.Errorf("get album %s: %w", albumID, err)
	}
	if len(album.Tracks) == 0 {
		return nil, fmt.Errorf("album %s has no tracks", albumID)
	}

	albumDir := d.dir.Album(albumArtistDir(album), album.Title)
	if err := albumDir.Ensure(); nil != err {
		return nil, err
	}

	logger.
		Info().
		Str("album_id", albumID).
		Str("title", album.Title).
		Int("tracks", len(album.Tracks)).
		Msg("Downloading album")

	results := make([]types.DownloadResult, len(album.Tracks))
	var aborted atomic.Bool

	wg, wgctx := errgroup.WithContext(ctx)
	wg.SetLimit(d.conf.TrackConcurrency)
	for i, track := range album.Tracks {
		trackLogger := logger.With().Int("track_index", i).Str("track_id", track.CatalogTrackID).Logger()

		wg.Go(func() error {
			if aborted.Load() || nil != wgctx.Err() {
				results[i] = skippedResult(&track, d.conf.Quality)

				return nil
			}

			select {
			case <-time.After(ratelimit.TrackDownloadSleep()):
			case <-wgctx.Done():
				results[i] = skippedResult(&track, d.conf.Quality)

				return nil
			}

			results[i] = d.downloadAlbumTrack(wgctx, trackLogger, session, &track, albumDir)
			if errors.Is(results[i].Err, ErrAlbumAborted) {
				aborted.Store(true)

				return ErrAlbumAborted
			}

			return nil
		})
	}

	if err := wg.Wait(); nil != err {
		if errors.Is(err, ErrAlbumAborted) {
			return results, ErrAlbumAborted
		}

		return results, fmt.Errorf("download album %s: %w", albumID, err)
	}

	return results, nil
}

// downloadAlbumTrack applies the album's auth policy around one track
// download: on an auth failure, refresh the session once and retry this
// track; a second auth failure aborts the whole album.
func (d *Downloader) downloadAlbumTrack(
	ctx context.Context,
	logger zerolog.Logger,
	session *albumSession,
	meta *types.MetadataBundle,
	albumDir fs.AlbumDir,
) types.DownloadResult {
	creds := session.current()
	result := d.downloadTrack(ctx, logger, creds, meta, albumDir)
	if !errors.Is(result.Err, api.ErrAuthRequired) {
		return result
	}

	refreshed, err := session.refresh(ctx, logger, creds)
	if nil != err {
		result.Err = errors.Join(ErrAlbumAborted, err)

		return result
	}
	if !refreshed {
		result.Err = errors.Join(ErrAlbumAborted, result.Err)

		return result
	}

	logger.Warn().Msg("Retrying track after credential refresh")
	result = d.downloadTrack(ctx, logger, session.current(), meta, albumDir)
	if errors.Is(result.Err, api.ErrAuthRequired) {
		result.Err = errors.Join(ErrAlbumAborted, result.Err)
	}

	return result
}

func skippedResult(meta *types.MetadataBundle, requested types.Tier) types.DownloadResult {
	return types.DownloadResult{ //nolint:exhaustruct
		TrackID:       meta.CatalogTrackID,
		Title:         meta.Title,
		Outcome:       types.OutcomeFailed,
		RequestedTier: requested,
		Err:           ErrAlbumAborted,
	}
}

func albumArtistDir(album *types.AlbumMeta) string {
	if album.Artist != "" {
		return album.Artist
	}

	if len(album.Tracks) > 0 {
		return album.Tracks[0].AlbumArtist
	}

	return ""
}

// DownloadTrack downloads a single track by id with the same auth policy as
// an album of one.
func (d *Downloader) DownloadTrack(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
) (types.DownloadResult, error) {
	session, err := newAlbumSession(ctx, logger, d.creds)
	if nil != err {
		return types.DownloadResult{}, err //nolint:exhaustruct
	}

	meta, err := d.catalog.GetTrack(ctx, logger, session.current(), trackID)
	if nil != err {
		return types.DownloadResult{}, fmt.Errorf("get track %s: %w", trackID, err) //nolint:exhaustruct
	}

	albumDir := d.dir.Album(albumArtistFor(meta), meta.Album)
	if err := albumDir.Ensure(); nil != err {
		return types.DownloadResult{}, err //nolint:exhaustruct
	}

	result := d.downloadAlbumTrack(ctx, logger, session, meta, albumDir)

	return result, nil
}

func albumArtistFor(meta *types.MetadataBundle) string {
	if meta.AlbumArtist != "" {
		return meta.AlbumArtist
	}

	return meta.Artist
}
