package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/qobuz/api"
	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/fs"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
	"github.com/qbzgrab/qbzgrab/unit"
)

const maxRateLimitWait = 2 * time.Minute

// downloadTrack runs the full per-track pipeline: resolve, stream to a temp
// file, embed tags, promote atomically. Transient failures are retried with
// backoff, re-resolving each attempt because stream URLs expire. The result
// always carries the track identity, even on failure.
func (d *Downloader) downloadTrack(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	meta *types.MetadataBundle,
	albumDir fs.AlbumDir,
) types.DownloadResult {
	result := types.DownloadResult{ //nolint:exhaustruct
		TrackID:       meta.CatalogTrackID,
		Title:         meta.Title,
		RequestedTier: d.conf.Quality,
	}

	attempt := func() error {
		resolved, err := d.catalog.Resolve(ctx, logger, creds, meta.CatalogTrackID, d.conf.Quality)
		if nil != err {
			return classifyRetry(ctx, err)
		}
		result.DeliveredTier = resolved.DeliveredTier

		track := albumDir.Track(
			meta.TotalDiscs,
			meta.DiscNumber,
			meta.TrackNumber,
			meta.Title,
			resolved.DeliveredTier.Ext(),
		)

		if exists, err := track.Exists(); nil != err {
			return backoff.Permanent(err)
		} else if exists {
			logger.Info().Str("path", track.Path).Msg("Track already downloaded. Skipping")
			result.Path = track.Path

			return nil
		}

		artifact, err := d.fetchAndCommit(ctx, logger, resolved, track)
		if nil != err {
			return classifyRetry(ctx, err)
		}
		result.Path = artifact.FinalPath

		logger.
			Debug().
			Str("path", artifact.FinalPath).
			Str("size", unit.FormatBytes(artifact.BytesWritten)).
			Msg("Track committed")

		// The audio is committed at this point. A failed tag write leaves the
		// file in place with unembedded tags; it is never deleted and never
		// retried, because a retry would skip over the existing file anyway.
		if err := d.embed.Embed(ctx, logger, artifact.FinalPath, resolved.DeliveredTier, meta); nil != err {
			return backoff.Permanent(err)
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.conf.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); nil != err {
		result.Outcome = types.OutcomeFailed
		result.Err = err

		return result
	}

	if result.DeliveredTier != result.RequestedTier {
		result.Outcome = types.OutcomePartialSuccess
	} else {
		result.Outcome = types.OutcomeSuccess
	}

	return result
}

// fetchAndCommit streams the audio and owns the temp file lifecycle: on any
// error the staged bytes are discarded and the destination path is never
// touched. The returned artifact describes the committed file; its TempPath
// is already gone. Tag embedding happens after commit, not here.
func (d *Downloader) fetchAndCommit(
	ctx context.Context,
	logger zerolog.Logger,
	resolved *types.ResolvedTrack,
	track fs.TrackFile,
) (artifact types.DownloadArtifact, err error) {
	temp, err := track.Temp()
	if nil != err {
		return artifact, err
	}
	defer func() {
		if nil != err {
			if discardErr := temp.Discard(); nil != discardErr {
				logger.Error().Err(discardErr).Msg("Failed to discard temp track file")
				err = errors.Join(err, discardErr)
			}
		}
	}()

	artifact = types.DownloadArtifact{
		TrackID:      resolved.TrackID,
		TempPath:     temp.Path,
		FinalPath:    track.Path,
		BytesWritten: 0,
	}

	written, err := d.streamTo(ctx, logger, resolved.URL, temp.File)
	if nil != err {
		return artifact, err
	}
	artifact.BytesWritten = written

	if err := temp.Close(); nil != err {
		return artifact, err
	}

	if err := temp.Promote(); nil != err {
		return artifact, err
	}
	artifact.TempPath = ""

	return artifact, nil
}

// classifyRetry decides whether an error is worth another attempt. Rate
// limiting waits out the server-issued delay first so the retry is not
// instantly throttled again.
func classifyRetry(ctx context.Context, err error) error {
	var rateErr *api.RateLimitedError
	if errors.As(err, &rateErr) {
		wait := min(rateErr.RetryAfter, maxRateLimitWait)
		select {
		case <-time.After(wait):
			return err
		case <-ctx.Done():
			return backoff.Permanent(fmt.Errorf("canceled while rate limited: %w", ctx.Err()))
		}
	}

	if errors.Is(err, api.ErrTransient) {
		return err
	}

	return backoff.Permanent(err)
}
