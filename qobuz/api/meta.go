package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

type personDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type rolePersonDTO struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

type imageDTO struct {
	Thumbnail string `json:"thumbnail"`
	Small     string `json:"small"`
	Large     string `json:"large"`
}

type trackDTO struct {
	ID                  int64      `json:"id"`
	Title               string     `json:"title"`
	Version             string     `json:"version"`
	TrackNumber         int        `json:"track_number"`
	MediaNumber         int        `json:"media_number"`
	Duration            int        `json:"duration"`
	Composer            *personDTO `json:"composer"`
	Performer           *personDTO `json:"performer"`
	Performers          string     `json:"performers"`
	Copyright           string     `json:"copyright"`
	ISRC                string     `json:"isrc"`
	ReleaseDateOriginal string     `json:"release_date_original"`
	MaximumBitDepth     int        `json:"maximum_bit_depth"`
	MaximumSamplingRate float64    `json:"maximum_sampling_rate"`
	Streamable          bool       `json:"streamable"`
	Album               *albumDTO  `json:"album"`
}

type albumDTO struct {
	ID                  string                            `json:"id"`
	Title               string                            `json:"title"`
	Version             string                            `json:"version"`
	Artist              *personDTO                        `json:"artist"`
	Artists             types.ListOrSingle[rolePersonDTO] `json:"artists"`
	Composer            *personDTO                        `json:"composer"`
	TracksCount         int                               `json:"tracks_count"`
	MediaCount          int                               `json:"media_count"`
	ReleaseDateOriginal string                            `json:"release_date_original"`
	ReleasedAt          int64                             `json:"released_at"`
	Genre               *personDTO                        `json:"genre"`
	Label               *personDTO                        `json:"label"`
	Copyright           string                            `json:"copyright"`
	UPC                 string                            `json:"upc"`
	URL                 string                            `json:"url"`
	Image               *imageDTO                         `json:"image"`
	Tracks              *struct {
		Items []trackDTO `json:"items"`
	} `json:"tracks"`
}

// covers maps the catalog's three published sizes and derives the original
// resolution URL from the large one, which embeds its size in the filename.
func (a *albumDTO) covers() types.CoverURLs {
	out := types.CoverURLs{} //nolint:exhaustruct
	if nil == a.Image {
		return out
	}

	out.Thumbnail = a.Image.Thumbnail
	out.Small = a.Image.Small
	out.Large = a.Image.Large
	if strings.Contains(a.Image.Large, "_600") {
		out.Mega = strings.Replace(a.Image.Large, "_600", "_org", 1)
	}

	return out
}

func (a *albumDTO) mainArtists() []string {
	return lo.FilterMap(a.Artists.Items, func(p rolePersonDTO, _ int) (string, bool) {
		return p.Name, lo.Contains(p.Roles, "main-artist")
	})
}

func (a *albumDTO) year() int {
	if a.ReleasedAt == 0 {
		return 0
	}

	return time.Unix(a.ReleasedAt, 0).UTC().Year()
}

// bundle flattens one track plus its album context into the immutable
// metadata snapshot tagging operates on. Resolution of derived fields
// (composer, album artist, dates) happens at embed time, not here.
func bundle(track trackDTO, album *albumDTO) types.MetadataBundle {
	out := types.MetadataBundle{ //nolint:exhaustruct
		Title:          track.Title,
		Version:        track.Version,
		Performers:     types.ParsePerformers(track.Performers),
		RawPerformers:  track.Performers,
		TrackNumber:    track.TrackNumber,
		DiscNumber:     track.MediaNumber,
		Copyright:      track.Copyright,
		ISRC:           track.ISRC,
		BitDepth:       track.MaximumBitDepth,
		SamplingKHz:    track.MaximumSamplingRate,
		MediaType:      "WEB",
		CatalogTrackID: strconv.FormatInt(track.ID, 10),
	}
	out.Dates.TrackRelease = track.ReleaseDateOriginal

	if nil != track.Composer {
		out.Composer = track.Composer.Name
	}
	if nil != track.Performer {
		out.Artist = track.Performer.Name
	}

	if nil == album {
		return out
	}

	out.Album = album.Title
	out.AlbumVersion = album.Version
	out.MainArtists = album.mainArtists()
	out.TotalTracks = album.TracksCount
	out.TotalDiscs = album.MediaCount
	out.UPC = album.UPC
	out.ProductURL = album.URL
	out.CatalogAlbumID = album.ID
	out.Covers = album.covers()
	out.Dates.AlbumRelease = album.ReleaseDateOriginal
	out.Dates.Year = album.year()

	if nil != album.Artist {
		out.AlbumArtist = album.Artist.Name
		if out.Artist == "" {
			out.Artist = album.Artist.Name
		}
	}
	if nil != album.Composer {
		out.AlbumComposer = album.Composer.Name
	}
	if nil != album.Genre {
		out.Genre = album.Genre.Name
	}
	if nil != album.Label {
		out.Label = album.Label.Name
	}
	if out.Copyright == "" {
		out.Copyright = album.Copyright
	}

	return out
}
