// Package downloader runs the download pipeline: resolve, stream, commit,
// embed. The album orchestrator fans tracks out over a bounded worker pool
// and owns the credential invalidate/retry decision.
package downloader

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/fs"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

// Catalog is the slice of the API client the pipeline needs.
type Catalog interface {
	GetTrack(
		ctx context.Context,
		logger zerolog.Logger,
		creds *auth.Credentials,
		trackID string,
	) (*types.MetadataBundle, error)
	GetAlbum(
		ctx context.Context,
		logger zerolog.Logger,
		creds *auth.Credentials,
		albumID string,
	) (*types.AlbumMeta, error)
	Resolve(
		ctx context.Context,
		logger zerolog.Logger,
		creds *auth.Credentials,
		trackID string,
		requested types.Tier,
	) (*types.ResolvedTrack, error)
}

// CredentialSource is the slice of the credential manager the pipeline needs.
// Invalidate must only be called from the orchestration boundary, never from
// per-track code.
type CredentialSource interface {
	EnsureValid(ctx context.Context, logger zerolog.Logger) (*auth.Credentials, error)
	Invalidate(logger zerolog.Logger)
}

// Embedder writes metadata into a finished audio file.
type Embedder interface {
	Embed(
		ctx context.Context,
		logger zerolog.Logger,
		path string,
		tier types.Tier,
		meta *types.MetadataBundle,
	) error
}

type Config struct {
	Quality          types.Tier
	ChunkTimeout     time.Duration
	MaxRetries       int
	TrackConcurrency int
}

type Downloader struct {
	catalog Catalog
	creds   CredentialSource
	embed   Embedder
	dir     fs.DownloadDir
	conf    Config
}

func New(
	catalog Catalog,
	creds CredentialSource,
	embed Embedder,
	dir fs.DownloadDir,
	conf Config,
) *Downloader {
	if conf.TrackConcurrency <= 0 {
		conf.TrackConcurrency = 1
	}
	if conf.MaxRetries < 0 {
		conf.MaxRetries = 0
	}

	return &Downloader{
		catalog: catalog,
		creds:   creds,
		embed:   embed,
		dir:     dir,
		conf:    conf,
	}
}
