// Package qobuz wires the credential lifecycle, the signed catalog client,
// the metadata cache, the tagger, and the download pipeline into one client.
package qobuz

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/qbzgrab/qbzgrab/cache"
	"github.com/qbzgrab/qbzgrab/config"
	"github.com/qbzgrab/qbzgrab/qobuz/api"
	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/downloader"
	"github.com/qbzgrab/qbzgrab/qobuz/fs"
	"github.com/qbzgrab/qbzgrab/qobuz/tagger"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

var (
	ErrAlbumAborted = downloader.ErrAlbumAborted
	ErrAuthRequired = api.ErrAuthRequired
	ErrNotFound     = api.ErrNotFound
)

type Client struct {
	api            *api.Client
	creds          *auth.Manager
	store          *auth.Store
	cache          *cache.Cache
	dl             *downloader.Downloader
	DownloadsDirFs fs.DownloadDir
}

func NewClient(logger zerolog.Logger, conf config.Qobuz) (*Client, error) {
	quality, err := types.ParseTier(conf.Quality)
	if nil != err {
		return nil, fmt.Errorf("parse quality tier: %v", err)
	}

	store, err := auth.OpenStore(conf.CredsPath)
	if nil != err {
		return nil, fmt.Errorf("open credentials store: %v", err)
	}

	creds := auth.NewManager(auth.Options{
		AppID:     conf.AppID,
		AppSecret: conf.AppSecret,
		Store:     store,
		Discover:  nil,
		Timeout:   time.Duration(conf.Downloader.Timeouts.Discovery) * time.Second,
	})

	apiClient := api.New(api.Options{
		BaseURL:        "",
		UserAuthToken:  conf.Session.UserAuthToken,
		Timeout:        time.Duration(conf.Downloader.Timeouts.GetMeta) * time.Second,
		ResolveTimeout: time.Duration(conf.Downloader.Timeouts.ResolveTrack) * time.Second,
	})

	var (
		c       = cache.New()
		dlDirFs = fs.DownloadDirFrom(conf.Downloads)
		tag     = tagger.New(c, time.Duration(conf.Downloader.Timeouts.DownloadCover)*time.Second)
		catalog = &cachingCatalog{api: apiClient, cache: c}
		dl      = downloader.New(catalog, creds, tag, dlDirFs, downloader.Config{
			Quality:          quality,
			ChunkTimeout:     time.Duration(conf.Downloader.Timeouts.DownloadChunk) * time.Second,
			MaxRetries:       conf.Downloader.MaxRetries,
			TrackConcurrency: conf.Downloader.Concurrency.Tracks,
		})
	)

	logger.Debug().Str("quality", quality.String()).Msg("Qobuz client created")

	return &Client{
		api:            apiClient,
		creds:          creds,
		store:          store,
		cache:          c,
		dl:             dl,
		DownloadsDirFs: dlDirFs,
	}, nil
}

func (c *Client) Close() error {
	if err := c.store.Close(); nil != err {
		return fmt.Errorf("close client: %w", err)
	}

	return nil
}

// DownloadLink downloads the album or track the link points at. Transient
// upstream failures and rate limiting at the album level are retried with
// backoff; per-track retries already happened inside the pipeline.
func (c *Client) DownloadLink(
	ctx context.Context,
	logger zerolog.Logger,
	link types.Link,
) ([]types.DownloadResult, error) {
	var results []types.DownloadResult
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(3, retry.NewFibonacci(1*time.Second)),
		func(ctx context.Context) error {
			var err error
			switch link.Kind {
			case types.LinkKindAlbum:
				results, err = c.dl.DownloadAlbum(ctx, logger, link.ID)
			case types.LinkKindTrack:
				var result types.DownloadResult
				result, err = c.dl.DownloadTrack(ctx, logger, link.ID)
				results = []types.DownloadResult{result}
			default:
				return fmt.Errorf("unexpected link kind: %s", link.Kind)
			}
			if nil != err {
				if errors.Is(err, api.ErrTransient) {
					return retry.RetryableError(err)
				}

				var rateErr *api.RateLimitedError
				if errors.As(err, &rateErr) {
					return retry.RetryableError(err)
				}

				return fmt.Errorf("download %s %s: %w", link.Kind, link.ID, err)
			}

			return nil
		},
	)
	if nil != err {
		return results, err
	}

	return results, nil
}

// Login exchanges account credentials for a session token and attaches it to
// all subsequent catalog calls.
func (c *Client) Login(
	ctx context.Context,
	logger zerolog.Logger,
	username string,
	password string,
) (*api.LoginResult, error) {
	creds, err := c.creds.EnsureValid(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("ensure valid credentials: %w", err)
	}

	result, err := c.api.Login(ctx, logger, creds, username, password)
	if nil != err {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.api.SetUserAuthToken(result.UserAuthToken)

	return result, nil
}

// DiscoverCredentials drops any persisted application credentials and forces
// a fresh discovery from the web player bundle.
func (c *Client) DiscoverCredentials(
	ctx context.Context,
	logger zerolog.Logger,
) (*auth.Credentials, error) {
	if err := c.store.Reset(); nil != err {
		return nil, fmt.Errorf("reset stored credentials: %w", err)
	}
	c.creds.Invalidate(logger)

	creds, err := c.creds.EnsureValid(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("discover credentials: %w", err)
	}

	return creds, nil
}

// ParseLink accepts a web or player URL or a bare id. A bare id without an
// album/track path segment is treated as an album.
func ParseLink(l string) (types.Link, error) {
	if !strings.Contains(l, "/") {
		return types.Link{Kind: types.LinkKindAlbum, ID: l}, nil
	}

	u, err := url.Parse(l)
	if nil != err {
		return types.Link{}, fmt.Errorf("parse link %q: %v", l, err) //nolint:exhaustruct
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		switch part {
		case "album":
			if i == len(parts)-1 {
				return types.Link{}, fmt.Errorf("link %q carries no album id", l) //nolint:exhaustruct
			}

			// Web links put a slug between the kind and the id. The id is
			// always the last segment.
			return types.Link{Kind: types.LinkKindAlbum, ID: parts[len(parts)-1]}, nil
		case "track":
			if i == len(parts)-1 {
				return types.Link{}, fmt.Errorf("link %q carries no track id", l) //nolint:exhaustruct
			}

			return types.Link{Kind: types.LinkKindTrack, ID: parts[len(parts)-1]}, nil
		}
	}

	return types.Link{}, fmt.Errorf("unsupported link: %s", l) //nolint:exhaustruct
}

// cachingCatalog memoizes album metadata so a retried album does not refetch
// the catalog. Track resolution is never cached: resolved URLs expire.
type cachingCatalog struct {
	api   *api.Client
	cache *cache.Cache
}

func (c *cachingCatalog) GetTrack(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	trackID string,
) (*types.MetadataBundle, error) {
	return c.api.GetTrack(ctx, logger, creds, trackID)
}

func (c *cachingCatalog) GetAlbum(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	albumID string,
) (*types.AlbumMeta, error) {
	item, err := c.cache.AlbumsMeta.Fetch(albumID, cache.DefaultAlbumMetaTTL, func() (*types.AlbumMeta, error) {
		return c.api.GetAlbum(ctx, logger, creds, albumID)
	})
	if nil != err {
		return nil, err
	}

	return item.Value(), nil
}

func (c *cachingCatalog) Resolve(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	trackID string,
	requested types.Tier,
) (*types.ResolvedTrack, error) {
	return c.api.Resolve(ctx, logger, creds, trackID, requested)
}
