package types

import "fmt"

// Tier is a quality/format combination offered by the catalog. The wire
// representation is the catalog's numeric format id.
type Tier int

const (
	TierMP3320 Tier = iota
	TierFLACLossless
	TierFLACHiRes96
	TierFLACHiRes192
)

const (
	formatIDMP3320   = 5
	formatIDFLAC     = 6
	formatIDHiRes96  = 7
	formatIDHiRes192 = 27
	hiResSamplingKHz = 96.0
	losslessBitDepth = 16
)

func (t Tier) String() string {
	switch t {
	case TierMP3320:
		return "MP3_320"
	case TierFLACLossless:
		return "FLAC_LOSSLESS"
	case TierFLACHiRes96:
		return "FLAC_HIRES_96"
	case TierFLACHiRes192:
		return "FLAC_HIRES_192"
	default:
		panic(fmt.Sprintf("unexpected tier: %d", int(t)))
	}
}

// FormatID is the value sent as format_id on resolve calls.
func (t Tier) FormatID() int {
	switch t {
	case TierMP3320:
		return formatIDMP3320
	case TierFLACLossless:
		return formatIDFLAC
	case TierFLACHiRes96:
		return formatIDHiRes96
	case TierFLACHiRes192:
		return formatIDHiRes192
	default:
		panic(fmt.Sprintf("unexpected tier: %d", int(t)))
	}
}

func (t Tier) Ext() string {
	if t == TierMP3320 {
		return "mp3"
	}

	return "flac"
}

// ParseTier maps the configuration spelling of a tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "mp3":
		return TierMP3320, nil
	case "flac":
		return TierFLACLossless, nil
	case "hires96":
		return TierFLACHiRes96, nil
	case "hires192":
		return TierFLACHiRes192, nil
	default:
		return 0, fmt.Errorf("unknown quality tier: %s", s)
	}
}

// TierFromFormatID derives the tier the server actually delivered from the
// resolve response's own format indicator. The server substitutes lower tiers
// silently, so this is the only trustworthy source.
func TierFromFormatID(formatID int, mimeType string, bitDepth int, samplingKHz float64) (Tier, error) {
	switch formatID {
	case formatIDMP3320:
		return TierMP3320, nil
	case formatIDFLAC:
		return TierFLACLossless, nil
	case formatIDHiRes96:
		return TierFLACHiRes96, nil
	case formatIDHiRes192:
		return TierFLACHiRes192, nil
	case 0:
	default:
		return 0, fmt.Errorf("unknown format id: %d", formatID)
	}

	// Some responses omit format_id. Fall back to the stream's audio
	// characteristics.
	switch mimeType {
	case "audio/mpeg":
		return TierMP3320, nil
	case "audio/flac", "audio/x-flac":
		switch {
		case bitDepth <= losslessBitDepth:
			return TierFLACLossless, nil
		case samplingKHz > hiResSamplingKHz:
			return TierFLACHiRes192, nil
		default:
			return TierFLACHiRes96, nil
		}
	default:
		return 0, fmt.Errorf("unknown delivered format: mime type %q, format id %d", mimeType, formatID)
	}
}
