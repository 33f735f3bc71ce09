package tagger

import (
	"fmt"
	"strconv"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

// embedFLAC rewrites the file's metadata blocks: existing vorbis comments and
// pictures are dropped so the result reflects exactly one source of truth.
func embedFLAC(path string, meta *types.MetadataBundle, cover *coverArt) error {
	f, err := flac.ParseFile(path)
	if nil != err {
		return fmt.Errorf("parse flac file: %v", err)
	}

	blocks := make([]*flac.MetaDataBlock, 0, len(f.Meta)+2)
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment && block.Type != flac.Picture {
			blocks = append(blocks, block)
		}
	}
	f.Meta = blocks

	comment := buildVorbisComment(meta)
	commentBlock := comment.Marshal()
	f.Meta = append(f.Meta, &commentBlock)

	if nil != cover {
		picture, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover,
			"Front Cover",
			cover.Bytes,
			cover.MimeType,
		)
		if nil != err {
			return fmt.Errorf("build cover picture block: %v", err)
		}

		pictureBlock := picture.Marshal()
		f.Meta = append(f.Meta, &pictureBlock)
	}

	if err := f.Save(path); nil != err {
		return fmt.Errorf("save flac file: %v", err)
	}

	return nil
}

func buildVorbisComment(meta *types.MetadataBundle) *flacvorbis.MetaDataBlockVorbisComment {
	comment := flacvorbis.New()

	addVorbisField(comment, flacvorbis.FIELD_TITLE, ResolveTitle(meta))
	addVorbisField(comment, flacvorbis.FIELD_ARTIST, ResolveArtist(meta))
	addVorbisField(comment, flacvorbis.FIELD_ALBUM, ResolveAlbumTitle(meta))
	addVorbisField(comment, "ALBUMARTIST", ResolveAlbumArtist(meta))
	addVorbisField(comment, "COMPOSER", ResolveComposer(meta))
	addVorbisField(comment, "GENRE", meta.Genre)

	if meta.TrackNumber > 0 {
		addVorbisField(comment, flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(meta.TrackNumber))
	}
	if meta.TotalTracks > 0 {
		addVorbisField(comment, "TOTALTRACKS", strconv.Itoa(meta.TotalTracks))
	}
	if meta.DiscNumber > 0 {
		addVorbisField(comment, "DISCNUMBER", strconv.Itoa(meta.DiscNumber))
	}
	if meta.TotalDiscs > 0 {
		addVorbisField(comment, "TOTALDISCS", strconv.Itoa(meta.TotalDiscs))
	}

	if date := ResolveDate(meta); date != "" {
		addVorbisField(comment, flacvorbis.FIELD_DATE, date)
		addVorbisField(comment, "YEAR", ResolveYear(meta))
		addVorbisField(comment, "ORIGINALDATE", date)
	}

	addVorbisField(comment, "LABEL", meta.Label)
	addVorbisField(comment, "COPYRIGHT", meta.Copyright)
	addVorbisField(comment, "ISRC", meta.ISRC)
	addVorbisField(comment, "UPC", meta.UPC)
	addVorbisField(comment, "MEDIA", meta.MediaType)
	addVorbisField(comment, "URL", meta.ProductURL)
	addVorbisField(comment, "PERFORMERS", meta.RawPerformers)
	addVorbisField(comment, "PRODUCER", producers(meta))

	if meta.BitDepth > 0 {
		addVorbisField(comment, "BITDEPTH", strconv.Itoa(meta.BitDepth))
	}
	if meta.SamplingKHz > 0 {
		addVorbisField(comment, "SAMPLERATE", strconv.FormatFloat(meta.SamplingKHz, 'f', -1, 64))
	}

	return comment
}

func addVorbisField(comment *flacvorbis.MetaDataBlockVorbisComment, field string, value string) {
	if value != "" {
		comment.Add(field, value)
	}
}
