package tagger

import (
	"errors"
	"fmt"
	"strconv"

	id3v2 "github.com/bogem/id3v2/v2"

	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

// embedMP3 rewrites the ID3v2 tag, dropping whatever frames the stream
// carried so the result reflects exactly one source of truth.
func embedMP3(path string, meta *types.MetadataBundle, cover *coverArt) (err error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil != err {
		return fmt.Errorf("open mp3 tag: %v", err)
	}
	defer func() {
		if closeErr := tag.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close mp3 tag: %v", closeErr))
		}
	}()

	tag.DeleteAllFrames()
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	tag.SetTitle(ResolveTitle(meta))
	tag.SetArtist(ResolveArtist(meta))
	tag.SetAlbum(ResolveAlbumTitle(meta))
	tag.SetGenre(meta.Genre)

	addTextFrame(tag, "TPE2", ResolveAlbumArtist(meta))
	addTextFrame(tag, "TCOM", ResolveComposer(meta))
	addTextFrame(tag, "TPUB", meta.Label)
	addTextFrame(tag, "TCOP", meta.Copyright)
	addTextFrame(tag, "TSRC", meta.ISRC)

	if meta.TrackNumber > 0 {
		track := strconv.Itoa(meta.TrackNumber)
		if meta.TotalTracks > 0 {
			track += "/" + strconv.Itoa(meta.TotalTracks)
		}
		addTextFrame(tag, "TRCK", track)
	}

	if meta.DiscNumber > 0 {
		disc := strconv.Itoa(meta.DiscNumber)
		if meta.TotalDiscs > 0 {
			disc += "/" + strconv.Itoa(meta.TotalDiscs)
		}
		addTextFrame(tag, "TPOS", disc)
	}

	if date := ResolveDate(meta); date != "" {
		addTextFrame(tag, "TDRC", date)
		addTextFrame(tag, "TYER", ResolveYear(meta))
	}

	addUserFrame(tag, "UPC", meta.UPC)
	addUserFrame(tag, "MEDIA", meta.MediaType)
	addUserFrame(tag, "URL", meta.ProductURL)
	addUserFrame(tag, "PERFORMERS", meta.RawPerformers)

	if nil != cover {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    cover.MimeType,
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     cover.Bytes,
		})
	}

	if err := tag.Save(); nil != err {
		return fmt.Errorf("save mp3 tag: %v", err)
	}

	return nil
}

func addTextFrame(tag *id3v2.Tag, id string, value string) {
	if value != "" {
		tag.AddTextFrame(id, id3v2.EncodingUTF8, value)
	}
}

func addUserFrame(tag *id3v2.Tag, description string, value string) {
	if value != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: description,
			Value:       value,
		})
	}
}
