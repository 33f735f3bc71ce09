package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

const maxAlbumTracks = 500

func (c *Client) GetAlbum(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	albumID string,
) (*types.AlbumMeta, error) {
	query := make(url.Values, 2)
	query.Set("album_id", albumID)
	query.Set("limit", strconv.Itoa(maxAlbumTracks))

	respBytes, err := c.get(ctx, logger, creds, "album/get", query)
	if nil != err {
		return nil, fmt.Errorf("get album %s: %w", albumID, err)
	}

	var album albumDTO
	if err := json.Unmarshal(respBytes, &album); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode album response body")
		return nil, fmt.Errorf("decode album %s response body: %v", albumID, err)
	}

	out := &types.AlbumMeta{
		ID:     album.ID,
		Title:  album.Title,
		Artist: "",
		Tracks: nil,
	}
	if nil != album.Artist {
		out.Artist = album.Artist.Name
	}

	if nil == album.Tracks {
		return out, nil
	}

	out.Tracks = make([]types.MetadataBundle, 0, len(album.Tracks.Items))
	for _, track := range album.Tracks.Items {
		out.Tracks = append(out.Tracks, bundle(track, &album))
	}

	return out, nil
}
