// Package tagger embeds catalog metadata and cover art into downloaded
// tracks. Field resolution is container-agnostic; only the final encoding
// differs between FLAC and MP3.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/cache"
	"github.com/qbzgrab/qbzgrab/ptr"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

// ErrTagWrite wraps failures to write tags into an otherwise complete audio
// file. The download itself succeeded; only the embed failed.
var ErrTagWrite = errors.New("failed to write tags")

type Tagger struct {
	cache        *cache.Cache
	coverTimeout time.Duration
}

func New(c *cache.Cache, coverTimeout time.Duration) *Tagger {
	return &Tagger{
		cache:        c,
		coverTimeout: coverTimeout,
	}
}

type coverArt struct {
	Bytes    []byte
	MimeType string
}

// Embed writes the resolved metadata into the file at path. Cover art is best
// effort: a failed fetch degrades to a file without embedded art and never
// fails the embed.
func (t *Tagger) Embed(
	ctx context.Context,
	logger zerolog.Logger,
	path string,
	tier types.Tier,
	meta *types.MetadataBundle,
) error {
	var cover *coverArt
	if coverURL := meta.Covers.Best(); coverURL != "" {
		art, err := t.fetchCover(ctx, logger, coverURL)
		if nil != err {
			logger.Warn().Err(err).Str("cover_url", coverURL).Msg("Failed to fetch cover art. Embedding without it")
		} else {
			cover = art
		}
	}

	switch tier.Ext() {
	case "flac":
		if err := embedFLAC(path, meta, cover); nil != err {
			return fmt.Errorf("%w: %v", ErrTagWrite, err)
		}
	case "mp3":
		if err := embedMP3(path, meta, cover); nil != err {
			return fmt.Errorf("%w: %v", ErrTagWrite, err)
		}
	default:
		return fmt.Errorf("%w: unsupported container: %s", ErrTagWrite, tier.Ext())
	}

	return nil
}

func (t *Tagger) fetchCover(ctx context.Context, logger zerolog.Logger, coverURL string) (*coverArt, error) {
	item, err := t.cache.Covers.Fetch(coverURL, cache.DefaultCoverTTL, func() ([]byte, error) {
		return t.downloadCover(ctx, logger, coverURL)
	})
	if nil != err {
		return nil, err
	}

	b := item.Value()

	return ptr.Of(coverArt{
		Bytes:    b,
		MimeType: mimetype.Detect(b).String(),
	}), nil
}

func (t *Tagger) downloadCover(ctx context.Context, logger zerolog.Logger, coverURL string) (b []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if nil != err {
		return nil, fmt.Errorf("create cover request: %w", err)
	}

	client := http.Client{Timeout: t.coverTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("issue cover request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close cover response body")
			err = errors.Join(err, fmt.Errorf("close cover response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected cover status code %d", resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("read cover response body: %w", err)
	}

	return respBytes, nil
}
