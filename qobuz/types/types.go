package types

import (
	"strings"
	"time"
)

// ResolvedTrack is the outcome of quality negotiation for a single track. The
// URL is time limited and must not be reused across download attempts.
type ResolvedTrack struct {
	TrackID       string
	RequestedTier Tier
	DeliveredTier Tier
	URL           string
	ExpiresAt     time.Time
}

// Fallback reports whether the server substituted a different tier than the
// one requested. This is an observable fact, not an error.
func (r ResolvedTrack) Fallback() bool {
	return r.DeliveredTier != r.RequestedTier
}

// DownloadArtifact describes a committed download. TempPath is only populated
// between fetch start and the final rename.
type DownloadArtifact struct {
	TrackID      string
	TempPath     string
	FinalPath    string
	BytesWritten int64
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartialSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialSuccess:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DownloadResult is the per-track record an album download always produces,
// in album track order, regardless of individual failures.
type DownloadResult struct {
	TrackID       string
	Title         string
	Outcome       Outcome
	RequestedTier Tier
	DeliveredTier Tier
	Path          string
	Err           error
}

// Contributor is one entry parsed from the catalog's delimited performers
// string ("Name, Role[, Role…] - Name, Role…").
type Contributor struct {
	Name  string
	Roles []string
}

// ParsePerformers splits the catalog's performers encoding into contributors,
// preserving catalog order. Malformed groups are skipped.
func ParsePerformers(s string) []Contributor {
	if s == "" {
		return nil
	}

	groups := strings.Split(s, " - ")
	out := make([]Contributor, 0, len(groups))
	for _, group := range groups {
		parts := strings.Split(group, ",")
		if len(parts) == 0 {
			continue
		}

		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}

		roles := make([]string, 0, len(parts)-1)
		for _, role := range parts[1:] {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}

		out = append(out, Contributor{Name: name, Roles: roles})
	}

	return out
}

func JoinNames(names []string) string {
	return strings.Join(names, ", ")
}

// Dates carries every date-shaped fact known for a track. Resolution into the
// single date used for tagging happens in one place so all date fields agree.
type Dates struct {
	TrackRelease string
	AlbumRelease string
	Year         int
}

// CoverURLs holds the art URLs offered by the catalog, largest first
// preference applied by Best.
type CoverURLs struct {
	Mega       string
	ExtraLarge string
	Large      string
	Medium     string
	Small      string
	Thumbnail  string
}

// Best returns the highest-resolution URL on offer, or empty when none.
func (c CoverURLs) Best() string {
	for _, u := range []string{c.Mega, c.ExtraLarge, c.Large, c.Medium, c.Small, c.Thumbnail} {
		if u != "" {
			return u
		}
	}

	return ""
}

type LinkKind int

const (
	LinkKindAlbum LinkKind = iota
	LinkKindTrack
)

func (k LinkKind) String() string {
	switch k {
	case LinkKindAlbum:
		return "album"
	case LinkKindTrack:
		return "track"
	default:
		return "unknown"
	}
}

// Link is a catalog resource reference, either pasted as a web or player URL
// or given as a bare id.
type Link struct {
	Kind LinkKind
	ID   string
}

// AlbumMeta is the orchestration view of one album: identity plus every
// track's metadata snapshot in catalog order.
type AlbumMeta struct {
	ID     string
	Title  string
	Artist string
	Tracks []MetadataBundle
}

// MetadataBundle is the immutable snapshot of catalog metadata used for one
// embed operation.
type MetadataBundle struct {
	Title          string
	Version        string
	Album          string
	AlbumVersion   string
	Artist         string
	AlbumArtist    string
	MainArtists    []string
	Composer       string
	AlbumComposer  string
	Performers     []Contributor
	RawPerformers  string
	TrackNumber    int
	DiscNumber     int
	TotalTracks    int
	TotalDiscs     int
	Genre          string
	Label          string
	Copyright      string
	ISRC           string
	UPC            string
	Dates          Dates
	Covers         CoverURLs
	BitDepth       int
	SamplingKHz    float64
	MediaType      string
	ProductURL     string
	CatalogTrackID string
	CatalogAlbumID string
}
