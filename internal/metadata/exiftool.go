package metadata

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
)

// Fields tried in order when asking exiftool for a creation date.
var ExiftoolDateFields []string = []string{
	"CreateDate",
	"MediaCreateDate",
	"TrackCreateDate",
}

var exiftoolDateLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05Z",
}

type Exiftool struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

var (
	etOnce sync.Once
	et     *Exiftool
	etErr  error
)

// GetExiftool returns the shared exiftool process, starting it on first use.
func GetExiftool() (*Exiftool, error) {
	etOnce.Do(func() {
		var e *exiftool.Exiftool
		e, etErr = exiftool.NewExiftool()
		if etErr != nil {
			etErr = fmt.Errorf("unable to start exiftool: %w", etErr)
			return
		}
		et = &Exiftool{et: e}
	})
	return et, etErr
}

func (e *Exiftool) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.et.Close()
}

// CreationDate asks exiftool for the creation date of path. QuickTime dates are reported in UTC.
func (e *Exiftool) CreationDate(path string) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, fileInfo := range e.et.ExtractMetadata(path) {
		if fileInfo.Err != nil {
			return time.Time{}, fmt.Errorf("exiftool: %w", fileInfo.Err)
		}
		return CreationDateFromFields(fileInfo.Fields)
	}
	return time.Time{}, fmt.Errorf("%w: exiftool returned no metadata", ErrTimestampNotFound)
}

func CreationDateFromFields(fields map[string]interface{}) (time.Time, error) {
	for _, field := range ExiftoolDateFields {
		value, ok := fields[field]
		if !ok {
			continue
		}
		theDate := strings.TrimSpace(fmt.Sprintf("%v", value))
		// exiftool prints unset QuickTime dates as zeros
		if strings.HasPrefix(theDate, "0000:00:00") {
			continue
		}
		for _, layout := range exiftoolDateLayouts {
			if created, err := time.Parse(layout, theDate); err == nil {
				return created.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: exiftool reported no creation date", ErrTimestampNotFound)
}
