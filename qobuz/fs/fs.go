// Package fs owns the on-disk layout of downloads: destination paths,
// colocated temp files, and the atomic rename that makes a finished track
// visible. A destination path never holds partial data.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxNameLen = 120

type DownloadDir string

func DownloadDirFrom(d string) DownloadDir {
	return DownloadDir(d)
}

// Album maps an artist/album pair to its destination directory.
func (dir DownloadDir) Album(artist string, title string) AlbumDir {
	if artist == "" {
		artist = "Unknown Artist"
	}
	if title == "" {
		title = "Unknown Album"
	}

	return AlbumDir{
		Path: filepath.Join(string(dir), SanitizeName(artist), SanitizeName(title)),
	}
}

type AlbumDir struct {
	Path string
}

func (a AlbumDir) Ensure() error {
	if err := os.MkdirAll(a.Path, 0o755); nil != err {
		return fmt.Errorf("create album directory: %v", err)
	}

	return nil
}

// Track names one track file inside the album directory. Multi-disc albums
// get a disc prefix so track numbers stay unambiguous.
func (a AlbumDir) Track(totalDiscs int, disc int, number int, title string, ext string) TrackFile {
	var name string
	if totalDiscs > 1 {
		name = fmt.Sprintf("%d-%02d. %s.%s", disc, number, SanitizeName(title), ext)
	} else {
		name = fmt.Sprintf("%02d. %s.%s", number, SanitizeName(title), ext)
	}

	return TrackFile{Path: filepath.Join(a.Path, name)}
}

type TrackFile struct {
	Path string
}

func (t TrackFile) Exists() (bool, error) {
	if _, err := os.Stat(t.Path); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat track file: %v", err)
	}

	return true, nil
}

func (t TrackFile) Remove() error {
	if err := os.Remove(t.Path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove track file: %v", err)
	}

	return nil
}

// Temp creates the staging file next to the destination so the final rename
// never crosses a filesystem boundary.
func (t TrackFile) Temp() (*TempFile, error) {
	f, err := os.CreateTemp(filepath.Dir(t.Path), "."+filepath.Base(t.Path)+".*.part")
	if nil != err {
		return nil, fmt.Errorf("create temp track file: %v", err)
	}

	return &TempFile{
		File:   f,
		Path:   f.Name(),
		dest:   t.Path,
		closed: false,
	}, nil
}

// TempFile stages track bytes until Promote renames them into place. The
// staged path may be modified in place (tag embedding) between Close and
// Promote. Exactly one of Promote or Discard must conclude the lifecycle.
type TempFile struct {
	File   *os.File
	Path   string
	dest   string
	closed bool
}

// Close flushes and closes the staged file, leaving its bytes on disk.
func (t *TempFile) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.File.Sync(); nil != err {
		return fmt.Errorf("sync temp track file: %v", err)
	}

	if err := t.File.Close(); nil != err {
		return fmt.Errorf("close temp track file: %v", err)
	}

	return nil
}

// Promote makes the staged bytes visible at the destination path in one
// atomic step. On any failure the temp file is removed and the destination
// stays untouched.
func (t *TempFile) Promote() (err error) {
	defer func() {
		if nil != err {
			if removeErr := os.Remove(t.Path); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("remove temp track file: %v", removeErr))
			}
		}
	}()

	if err := t.Close(); nil != err {
		return err
	}

	if err := os.Rename(t.Path, t.dest); nil != err {
		return fmt.Errorf("rename temp track file into place: %v", err)
	}

	return nil
}

// Commit is Close followed by Promote.
func (t *TempFile) Commit() error {
	return t.Promote()
}

// Discard drops the staged bytes. Safe to call on any error path.
func (t *TempFile) Discard() error {
	if !t.closed {
		t.closed = true
		_ = t.File.Close()
	}

	if err := os.Remove(t.Path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp track file: %v", err)
	}

	return nil
}

// SanitizeName strips path separators and characters that commonly break
// filesystems, then bounds the length so deep classical titles still fit.
func SanitizeName(name string) string {
	out := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		case '\x00':
			return -1
		default:
			return r
		}
	}, name)

	out = strings.Trim(out, " .")
	if out == "" {
		return "_"
	}

	if len(out) > maxNameLen {
		cut := out[:maxNameLen]
		// Do not split a multi-byte rune at the boundary.
		for len(cut) > 0 && !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
		out = strings.Trim(cut, " .")
	}

	return out
}
