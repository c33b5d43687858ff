package sortengine

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wezm/mkv-rename/internal/metadata"
)

var ErrOffsetTooBig = errors.New("offset too big")

// RenamePlan pairs a file with the name it gets once its timestamp is prepended.
type RenamePlan struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Epoch   int64     `json:"epoch"`
	Created time.Time `json:"created"`
	Format  string    `json:"format"`
}

// Unchanged reports whether the file already carries its timestamp prefix.
func (p *RenamePlan) Unchanged() bool {
	return p.From == p.To
}

// OffsetFromHours converts a timezone offset in (possibly fractional) hours to whole seconds,
// rounding to the nearest second.
func OffsetFromHours(hours float64) (time.Duration, error) {
	seconds := math.Round(hours * 60 * 60)
	if math.IsNaN(seconds) || seconds > math.MaxInt32 || seconds < math.MinInt32 {
		return 0, fmt.Errorf("%w: %v hours", ErrOffsetTooBig, hours)
	}
	return time.Duration(seconds) * time.Second, nil
}

// Epoch returns the UNIX seconds used as the filename prefix: the container timestamp floored
// to whole seconds, shifted by the offset.
func Epoch(created time.Time, offset time.Duration) (int64, error) {
	epoch := created.Unix() + int64(offset/time.Second)
	if epoch < 0 {
		return 0, fmt.Errorf("%w: %s predates the UNIX epoch", metadata.ErrTimestampNotFound, created.Add(offset).UTC().Format(time.RFC3339))
	}
	return epoch, nil
}

// NewPlan builds the destination "<epoch> <basename>" in the same directory as path. A file
// whose name already starts with that prefix maps to itself.
func NewPlan(path string, epoch int64) *RenamePlan {
	dir, base := filepath.Split(path)
	prefix := strconv.FormatInt(epoch, 10) + " "
	plan := &RenamePlan{From: path, To: path, Epoch: epoch}
	if !strings.HasPrefix(base, prefix) {
		plan.To = dir + prefix + base
	}
	return plan
}
