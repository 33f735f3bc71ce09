package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbzgrab/qbzgrab/qobuz/fs"
)

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Kind of Blue", "Kind of Blue"},
		{"separators", "AC/DC: Back\\Forth", "AC_DC_ Back_Forth"},
		{"windows reserved", `What?*"<>|`, "What______"},
		{"trailing dots and spaces", "Vol. 2. ", "Vol. 2"},
		{"empty", "", "_"},
		{"only junk", " .. ", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, fs.SanitizeName(tt.input))
		})
	}

	long := fs.SanitizeName(strings.Repeat("é", 200))
	assert.LessOrEqual(t, len(long), 120)
	assert.NotEmpty(t, long)
}

func TestTrackNaming(t *testing.T) {
	t.Parallel()

	dir := fs.DownloadDirFrom("/music")
	album := dir.Album("Miles Davis", "Kind of Blue")
	assert.Equal(t, filepath.Join("/music", "Miles Davis", "Kind of Blue"), album.Path)

	single := album.Track(1, 1, 3, "Blue in Green", "flac")
	assert.Equal(t, filepath.Join(album.Path, "03. Blue in Green.flac"), single.Path)

	multi := album.Track(2, 2, 7, "Act II", "mp3")
	assert.Equal(t, filepath.Join(album.Path, "2-07. Act II.mp3"), multi.Path)
}

func TestAlbumFallbackNames(t *testing.T) {
	t.Parallel()

	album := fs.DownloadDirFrom("/music").Album("", "")
	assert.Equal(t, filepath.Join("/music", "Unknown Artist", "Unknown Album"), album.Path)
}

func TestTempCommitIsAtomic(t *testing.T) {
	t.Parallel()

	album := fs.DownloadDirFrom(t.TempDir()).Album("Artist", "Album")
	require.NoError(t, album.Ensure())

	track := album.Track(1, 1, 1, "Song", "flac")

	temp, err := track.Temp()
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(track.Path), filepath.Dir(temp.Path))

	_, err = temp.File.WriteString("audio bytes")
	require.NoError(t, err)

	// Destination must not exist while staging.
	exists, err := track.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, temp.Commit())

	content, err := os.ReadFile(track.Path)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(content))

	_, err = os.Stat(temp.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTempCloseModifyPromote(t *testing.T) {
	t.Parallel()

	album := fs.DownloadDirFrom(t.TempDir()).Album("Artist", "Album")
	require.NoError(t, album.Ensure())

	track := album.Track(1, 1, 1, "Song", "flac")

	temp, err := track.Temp()
	require.NoError(t, err)
	_, err = temp.File.WriteString("audio")
	require.NoError(t, err)

	// Tag embedding rewrites the staged file in place before promotion.
	require.NoError(t, temp.Close())
	require.NoError(t, os.WriteFile(temp.Path, []byte("audio+tags"), 0o600))
	require.NoError(t, temp.Promote())

	content, err := os.ReadFile(track.Path)
	require.NoError(t, err)
	assert.Equal(t, "audio+tags", string(content))
}

func TestTempDiscardLeavesNothing(t *testing.T) {
	t.Parallel()

	album := fs.DownloadDirFrom(t.TempDir()).Album("Artist", "Album")
	require.NoError(t, album.Ensure())

	track := album.Track(1, 1, 1, "Song", "flac")

	temp, err := track.Temp()
	require.NoError(t, err)
	_, err = temp.File.WriteString("partial")
	require.NoError(t, err)

	require.NoError(t, temp.Discard())

	_, err = os.Stat(temp.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	exists, err := track.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTrackRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	album := fs.DownloadDirFrom(t.TempDir()).Album("Artist", "Album")
	require.NoError(t, album.Ensure())

	track := album.Track(1, 1, 1, "Song", "flac")
	require.NoError(t, track.Remove())
	require.NoError(t, track.Remove())
}
