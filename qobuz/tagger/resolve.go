package tagger

import (
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

// Authorship roles identify who wrote the music, as opposed to who performed
// it. The distinction matters most for classical releases, where the catalog
// routinely lists the composer among the performers.
var authorshipRoles = map[string]struct{}{
	"Composer":         {},
	"ComposerLyricist": {},
	"Lyricist":         {},
	"Writer":           {},
}

func isAuthorship(role string) bool {
	_, ok := authorshipRoles[role]

	return ok
}

// ResolveComposer picks the composer credit for a track, most specific source
// first: the track's explicit composer, then contributors credited with an
// authorship role in catalog order, then the album-level composer. Empty
// means the field is omitted entirely.
func ResolveComposer(meta *types.MetadataBundle) string {
	if meta.Composer != "" {
		return meta.Composer
	}

	authors := lo.FilterMap(meta.Performers, func(c types.Contributor, _ int) (string, bool) {
		return c.Name, lo.SomeBy(c.Roles, isAuthorship)
	})
	if len(authors) > 0 {
		return types.JoinNames(lo.Uniq(authors))
	}

	return meta.AlbumComposer
}

// ResolveAlbumArtist picks the album artist: the catalog's explicit album
// artist, then the main artists joined in catalog order, then the track
// artist, but only when no other contributor could plausibly own the album.
// Empty means omit.
func ResolveAlbumArtist(meta *types.MetadataBundle) string {
	if meta.AlbumArtist != "" {
		return meta.AlbumArtist
	}

	if len(meta.MainArtists) > 0 {
		return types.JoinNames(meta.MainArtists)
	}

	if len(meta.Performers) <= 1 {
		return meta.Artist
	}

	return ""
}

// ResolveDate picks the single date used for every date-shaped tag field, so
// a file never carries contradictory dates: track release, then album
// release, then the bare release year.
func ResolveDate(meta *types.MetadataBundle) string {
	if meta.Dates.TrackRelease != "" {
		return meta.Dates.TrackRelease
	}

	if meta.Dates.AlbumRelease != "" {
		return meta.Dates.AlbumRelease
	}

	if meta.Dates.Year > 0 {
		return strconv.Itoa(meta.Dates.Year)
	}

	return ""
}

// ResolveYear is the four-digit year of ResolveDate, or empty.
func ResolveYear(meta *types.MetadataBundle) string {
	date := ResolveDate(meta)
	if len(date) >= 4 {
		return date[:4]
	}

	return date
}

// ResolveTitle appends the catalog's version qualifier ("Live", "Remaster")
// when present, so distinct editions stay distinguishable.
func ResolveTitle(meta *types.MetadataBundle) string {
	return versioned(meta.Title, meta.Version)
}

func ResolveAlbumTitle(meta *types.MetadataBundle) string {
	return versioned(meta.Album, meta.AlbumVersion)
}

func versioned(title string, version string) string {
	if version == "" || strings.Contains(strings.ToLower(title), strings.ToLower(version)) {
		return title
	}

	return title + " (" + version + ")"
}

func producers(meta *types.MetadataBundle) string {
	names := lo.FilterMap(meta.Performers, func(c types.Contributor, _ int) (string, bool) {
		return c.Name, lo.Contains(c.Roles, "Producer")
	})

	return types.JoinNames(lo.Uniq(names))
}

// ResolveArtist picks the display artist for the track itself.
func ResolveArtist(meta *types.MetadataBundle) string {
	if meta.Artist != "" {
		return meta.Artist
	}

	return ResolveAlbumArtist(meta)
}
