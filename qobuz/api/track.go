package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/signer"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

// Resolved stream URLs are short-lived; treat them as stale well before the
// server would.
const resolvedURLValidity = 10 * time.Minute

func (c *Client) GetTrack(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	trackID string,
) (*types.MetadataBundle, error) {
	query := make(url.Values, 1)
	query.Set("track_id", trackID)

	respBytes, err := c.get(ctx, logger, creds, "track/get", query)
	if nil != err {
		return nil, fmt.Errorf("get track %s: %w", trackID, err)
	}

	var track trackDTO
	if err := json.Unmarshal(respBytes, &track); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode track response body")
		return nil, fmt.Errorf("decode track %s response body: %v", trackID, err)
	}

	meta := bundle(track, track.Album)

	return &meta, nil
}

type fileURLDTO struct {
	URL          string  `json:"url"`
	FormatID     int     `json:"format_id"`
	MimeType     string  `json:"mime_type"`
	BitDepth     int     `json:"bit_depth"`
	SamplingRate float64 `json:"sampling_rate"`
	Sample       bool    `json:"sample"`
}

// Resolve negotiates a stream URL for the requested tier. The delivered tier
// is read back from the response, never assumed: the server silently
// substitutes the best tier the account is entitled to, and that substitution
// must stay observable to the caller.
func (c *Client) Resolve(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	trackID string,
	requested types.Tier,
) (*types.ResolvedTrack, error) {
	ctx, cancel := context.WithTimeout(ctx, c.resolveTimeout)
	defer cancel()

	params := []signer.Param{
		{Key: "format_id", Value: strconv.Itoa(requested.FormatID())},
		{Key: "intent", Value: "stream"},
		{Key: "track_id", Value: trackID},
	}

	respBytes, err := c.getSigned(ctx, logger, creds, "track/getFileUrl", params)
	if nil != err {
		return nil, fmt.Errorf("resolve track %s: %w", trackID, err)
	}

	var file fileURLDTO
	if err := json.Unmarshal(respBytes, &file); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode file url response body")
		return nil, fmt.Errorf("decode track %s file url response body: %v", trackID, err)
	}

	// A preview-only delivery means the session lacks streaming entitlement.
	if file.Sample {
		return nil, fmt.Errorf("%w: track %s resolved to a preview sample", ErrAuthRequired, trackID)
	}
	if file.URL == "" {
		return nil, fmt.Errorf("track %s is not streamable", trackID)
	}

	delivered, err := types.TierFromFormatID(file.FormatID, file.MimeType, file.BitDepth, file.SamplingRate)
	if nil != err {
		return nil, fmt.Errorf("detect delivered tier for track %s: %v", trackID, err)
	}

	if delivered != requested {
		logger.
			Warn().
			Str("track_id", trackID).
			Str("requested", requested.String()).
			Str("delivered", delivered.String()).
			Msg("Catalog substituted a different quality tier")
	}

	return &types.ResolvedTrack{
		TrackID:       trackID,
		RequestedTier: requested,
		DeliveredTier: delivered,
		URL:           file.URL,
		ExpiresAt:     time.Now().Add(resolvedURLValidity),
	}, nil
}
