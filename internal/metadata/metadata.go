package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrMalformedContainer = errors.New("malformed container")
	ErrTimestampNotFound  = errors.New("timestamp not found")
)

// Format selects the reader used for a file.
type Format int

const (
	FormatUnknown Format = iota
	FormatMatroska
	FormatMP4
)

var MatroskaExtensions []string = []string{"mkv"}
var MP4Extensions []string = []string{"mov", "m4v", "mp4"}

func (f Format) String() string {
	switch f {
	case FormatMatroska:
		return "matroska"
	case FormatMP4:
		return "mp4"
	default:
		return "unknown"
	}
}

func FileExtMatches(filename string, exts []string) bool {
	fileExt := filepath.Ext(filename)
	if len(fileExt) < 2 {
		return false
	}
	fileExt = fileExt[1:]

	for _, ext := range exts {
		if strings.EqualFold(ext, fileExt) {
			return true
		}
	}
	return false
}

// FormatFromPath picks a reader by the lowercased file extension. Nothing is read from disk.
func FormatFromPath(path string) (Format, error) {
	switch {
	case FileExtMatches(path, MatroskaExtensions):
		return FormatMatroska, nil
	case FileExtMatches(path, MP4Extensions):
		return FormatMP4, nil
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return FormatUnknown, fmt.Errorf("%w: no file extension", ErrUnsupportedFormat)
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, strings.ToLower(ext))
}

// CreationDate returns the creation timestamp embedded in the container at path, in UTC.
func CreationDate(path string) (time.Time, Format, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return time.Time{}, format, err
	}

	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, format, err
	}
	defer f.Close()

	fileInfo, err := f.Stat()
	if err != nil {
		return time.Time{}, format, err
	}
	if fileInfo.IsDir() {
		return time.Time{}, format, fmt.Errorf("%s is a directory", path)
	}

	var created time.Time
	switch format {
	case FormatMatroska:
		created, err = ReadMatroska(f, fileInfo.Size())
	case FormatMP4:
		created, err = ReadMP4(f, fileInfo.Size())
	}
	if err != nil {
		return time.Time{}, format, err
	}
	return created, format, nil
}
