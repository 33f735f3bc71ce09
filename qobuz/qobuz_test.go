package qobuz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbzgrab/qbzgrab/qobuz"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

func TestParseLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want types.Link
	}{
		{
			name: "bare id defaults to album",
			in:   "abcd1234",
			want: types.Link{Kind: types.LinkKindAlbum, ID: "abcd1234"},
		},
		{
			name: "player album link",
			in:   "https://play.qobuz.com/album/abcd1234",
			want: types.Link{Kind: types.LinkKindAlbum, ID: "abcd1234"},
		},
		{
			name: "player track link",
			in:   "https://play.qobuz.com/track/5966783",
			want: types.Link{Kind: types.LinkKindTrack, ID: "5966783"},
		},
		{
			name: "web album link carries a slug before the id",
			in:   "https://www.qobuz.com/gb-en/album/goldberg-variations-glenn-gould/0886443927087",
			want: types.Link{Kind: types.LinkKindAlbum, ID: "0886443927087"},
		},
		{
			name: "open link without scheme",
			in:   "open.qobuz.com/album/abcd1234",
			want: types.Link{Kind: types.LinkKindAlbum, ID: "abcd1234"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := qobuz.ParseLink(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLinkRejectsUnsupported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{name: "artist link", in: "https://play.qobuz.com/artist/12345"},
		{name: "album link without id", in: "https://play.qobuz.com/album"},
		{name: "plain website link", in: "https://www.qobuz.com/gb-en/discover"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := qobuz.ParseLink(tt.in)
			require.Error(t, err)
		})
	}
}
