package sortengine

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wezm/mkv-rename/internal/metadata"
)

type Media struct {
	Path         string    `json:"path"`
	Filename     string    `json:"filename"`
	Format       string    `json:"format"`
	Size         int64     `json:"size"`
	ModifiedDate time.Time `json:"modified_time"`
	Checksum100k string    `json:"checksum100k"`
}

// NewMediaFile describes the regular file at path. The checksum is filled in lazily.
func NewMediaFile(path string) (*Media, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	m := &Media{
		Path:         path,
		Filename:     filepath.Base(path),
		Size:         fileInfo.Size(),
		ModifiedDate: fileInfo.ModTime(),
	}
	if format, err := metadata.FormatFromPath(path); err == nil {
		m.Format = format.String()
	}
	return m, nil
}

func (m *Media) SetChecksum() error {
	cs, err := Checksum(m.Path, true)
	if err != nil {
		return err
	}
	m.Checksum100k = cs
	return nil
}

// Checksum returns the md5 of filename, or of its first 100k when short is set.
func Checksum(filename string, short ...bool) (string, error) {
	var hundredk bool = false
	if len(short) > 0 {
		hundredk = short[0]
	}

	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()

	var BUFSIZE int64 = 102400
	if hundredk {
		_, err = io.CopyN(h, f, BUFSIZE)
		if err != nil && err != io.EOF {
			return "", err
		}
	} else {
		_, err = io.Copy(h, f)
		if err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
