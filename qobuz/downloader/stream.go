package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/must"
	"github.com/qbzgrab/qbzgrab/qobuz/api"
	"github.com/qbzgrab/qbzgrab/unit"
)

const streamChunkSize = 1 * unit.Mebibyte

// streamTo copies the resolved URL's body into w in bounded chunks so memory
// stays flat and cancellation is honored between chunks. Network failures are
// reported as transient; the caller re-resolves before retrying because
// stream URLs expire.
func (d *Downloader) streamTo(
	ctx context.Context,
	logger zerolog.Logger,
	streamURL string,
	w io.Writer,
) (written int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	must.NilErr(err)

	client := http.Client{ //nolint:exhaustruct
		Transport: &http.Transport{ //nolint:exhaustruct
			ResponseHeaderTimeout: d.conf.ChunkTimeout,
		},
	}
	resp, err := client.Do(req)
	if nil != err {
		return 0, fmt.Errorf("%w: issue stream request: %v", api.ErrTransient, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close stream response body")
			err = errors.Join(err, fmt.Errorf("close stream response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		// Stream URLs are signed and short-lived. Rejection here means the
		// URL went stale, not that credentials are bad.
		return 0, fmt.Errorf("%w: stream url rejected with status %d", api.ErrTransient, code)
	default:
		if code >= http.StatusInternalServerError {
			return 0, fmt.Errorf("%w: stream status code %d", api.ErrTransient, code)
		}

		return 0, fmt.Errorf("unexpected stream status code %d", code)
	}

	for {
		if err := ctx.Err(); nil != err {
			return written, fmt.Errorf("stream canceled: %w", err)
		}

		n, err := io.CopyN(w, resp.Body, streamChunkSize)
		written += n
		if nil != err {
			if errors.Is(err, io.EOF) {
				break
			}

			return written, fmt.Errorf("%w: copy stream chunk: %v", api.ErrTransient, err)
		}
	}

	logger.Debug().Str("size", unit.FormatBytes(written)).Msg("Stream fetched")

	return written, nil
}
