package metadata

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strings"
	"time"
)

// Matroska element IDs, with the VINT marker bit kept as the registry lists them.
const (
	idEBML        = 0x1A45DFA3
	idSegment     = 0x18538067
	idSeekHead    = 0x114D9B74
	idInfo        = 0x1549A966
	idTracks      = 0x1654AE6B
	idCluster     = 0x1F43B675
	idCues        = 0x1C53BB6B
	idChapters    = 0x1043A770
	idAttachments = 0x1941A469
	idTags        = 0x1254C367
	idDateUTC     = 0x4461
	idTag         = 0x7373
	idSimpleTag   = 0x67C8
	idTagName     = 0x45A3
	idTagString   = 0x4487
)

// MatroskaEpoch is 2001-01-01T00:00:00Z in UNIX seconds.
const MatroskaEpoch = 978307200

const AppleCreationDateTag = "com.apple.quicktime.creationdate"

const unknownSize = -1

// Tag strings longer than this are skipped rather than read.
const maxTagLength = 1024

var segmentChildren = map[uint32]bool{
	idSeekHead:    true,
	idInfo:        true,
	idTracks:      true,
	idCluster:     true,
	idCues:        true,
	idChapters:    true,
	idAttachments: true,
	idTags:        true,
}

// An unknown-size Tag ends at the next Tag or at the next Segment child.
var tagSiblings = map[uint32]bool{
	idTag:         true,
	idSeekHead:    true,
	idInfo:        true,
	idTracks:      true,
	idCluster:     true,
	idCues:        true,
	idChapters:    true,
	idAttachments: true,
	idTags:        true,
}

var topLevel = map[uint32]bool{
	idEBML:    true,
	idSegment: true,
}

// Apple creation dates must carry a zone offset; values without one are ignored.
var appleDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
}

type ebmlElement struct {
	id    uint32
	start int64 // offset of the ID
	data  int64 // offset of the payload
	size  int64 // payload length, or unknownSize
}

// end returns where the element's payload stops. Unknown sizes run to the end of the parent.
func (el ebmlElement) end(parentEnd int64) int64 {
	if el.size == unknownSize {
		return parentEnd
	}
	return el.data + el.size
}

type ebmlReader struct {
	r   io.ReadSeeker
	pos int64
	buf [8]byte
}

type matroskaDates struct {
	sawSegment bool
	sawInfo    bool
	dateUTC    *time.Time
	apple      *time.Time
}

// ReadMatroska scans a Matroska stream of the given length for its creation date. Only the
// EBML header, Segment, Info and Tags are descended; everything else is skipped by seeking.
func ReadMatroska(r io.ReadSeeker, size int64) (time.Time, error) {
	er := &ebmlReader{r: r}

	header, err := er.next(size)
	if err == io.EOF {
		return time.Time{}, fmt.Errorf("%w: empty file", ErrMalformedContainer)
	}
	if err != nil {
		return time.Time{}, err
	}
	if header.id != idEBML {
		return time.Time{}, fmt.Errorf("%w: missing EBML header (first element %#x)", ErrMalformedContainer, header.id)
	}
	if header.size == unknownSize {
		return time.Time{}, fmt.Errorf("%w: EBML header has unknown size", ErrMalformedContainer)
	}
	er.pos = header.end(size)

	var found matroskaDates
	err = er.walk(size, nil, func(el ebmlElement, end int64) (bool, error) {
		if el.id != idSegment {
			return false, nil
		}
		found.sawSegment = true
		if err := er.walk(end, stopAt(el, topLevel), er.segmentVisitor(&found)); err != nil {
			return true, err
		}
		return true, errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return time.Time{}, err
	}
	return found.result()
}

func (found *matroskaDates) result() (time.Time, error) {
	switch {
	case found.apple != nil:
		return *found.apple, nil
	case found.dateUTC != nil:
		return *found.dateUTC, nil
	case !found.sawSegment:
		return time.Time{}, fmt.Errorf("%w: no Segment element", ErrTimestampNotFound)
	case !found.sawInfo:
		return time.Time{}, fmt.Errorf("%w: no Segment/Info element", ErrTimestampNotFound)
	default:
		return time.Time{}, fmt.Errorf("%w: no DateUTC element in Segment/Info", ErrTimestampNotFound)
	}
}

var errStopWalk = errors.New("stop walk")

func stopAt(el ebmlElement, ids map[uint32]bool) map[uint32]bool {
	if el.size == unknownSize {
		return ids
	}
	return nil
}

func (er *ebmlReader) segmentVisitor(found *matroskaDates) func(ebmlElement, int64) (bool, error) {
	return func(el ebmlElement, end int64) (bool, error) {
		switch el.id {
		case idInfo:
			found.sawInfo = true
			return true, er.walk(end, stopAt(el, segmentChildren), func(child ebmlElement, childEnd int64) (bool, error) {
				if child.id != idDateUTC {
					return false, nil
				}
				ns, err := er.readInt(child)
				if err != nil {
					return true, err
				}
				created := time.Unix(MatroskaEpoch, 0).Add(time.Duration(ns)).UTC()
				found.dateUTC = &created
				return true, nil
			})
		case idTags:
			return true, er.walk(end, stopAt(el, segmentChildren), func(tag ebmlElement, tagEnd int64) (bool, error) {
				if tag.id != idTag {
					return false, nil
				}
				return true, er.walk(tagEnd, stopAt(tag, tagSiblings), func(simple ebmlElement, _ int64) (bool, error) {
					if simple.id != idSimpleTag || simple.size == unknownSize {
						return false, nil
					}
					return true, er.readSimpleTag(simple, found)
				})
			})
		}
		return false, nil
	}
}

func (er *ebmlReader) readSimpleTag(simple ebmlElement, found *matroskaDates) error {
	var name, value string
	err := er.walk(simple.end(0), nil, func(el ebmlElement, _ int64) (bool, error) {
		if el.size == unknownSize || el.size > maxTagLength {
			return false, nil
		}
		var err error
		switch el.id {
		case idTagName:
			name, err = er.readString(el)
		case idTagString:
			value, err = er.readString(el)
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return err
	}
	if found.apple != nil || !strings.EqualFold(name, AppleCreationDateTag) {
		return nil
	}
	for _, layout := range appleDateLayouts {
		if created, err := time.Parse(layout, value); err == nil {
			created = created.UTC()
			found.apple = &created
			return nil
		}
	}
	return nil
}

// walk visits the children of a master element whose payload stops at end. visit reports
// whether it consumed the child; unconsumed children are skipped. An unconsumed child of
// unknown size runs to the end of the parent, which ends the walk. When stop is non-nil the
// parent has unknown size and any ID in stop marks the start of one of its siblings.
func (er *ebmlReader) walk(end int64, stop map[uint32]bool, visit func(ebmlElement, int64) (bool, error)) error {
	for {
		el, err := er.next(end)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if stop[el.id] {
			er.pos = el.start
			return nil
		}

		childEnd := el.end(end)
		consumed, err := visit(el, childEnd)
		if err != nil {
			return err
		}
		if el.size == unknownSize {
			if consumed {
				continue
			}
			er.pos = end
			return nil
		}
		er.pos = childEnd
	}
}

// next reads the element header at the current position. io.EOF means the container ends here.
func (er *ebmlReader) next(end int64) (ebmlElement, error) {
	if er.pos >= end {
		return ebmlElement{}, io.EOF
	}
	if _, err := er.r.Seek(er.pos, io.SeekStart); err != nil {
		return ebmlElement{}, err
	}

	el := ebmlElement{start: er.pos}
	id, n, _, err := er.readVint(4, true)
	if err != nil {
		return ebmlElement{}, er.malformed(err, "element ID")
	}
	el.id = uint32(id)
	er.pos += int64(n)

	size, n, unknown, err := er.readVint(8, false)
	if err != nil {
		return ebmlElement{}, er.malformed(err, fmt.Sprintf("size of element %#x", el.id))
	}
	er.pos += int64(n)
	el.data = er.pos

	if el.data > end {
		return ebmlElement{}, fmt.Errorf("%w: header of element %#x at offset %d runs past its parent", ErrMalformedContainer, el.id, el.start)
	}
	if unknown {
		el.size = unknownSize
		return el, nil
	}
	if size > uint64(end-el.data) {
		return ebmlElement{}, fmt.Errorf("%w: element %#x at offset %d declares %d bytes, only %d remain", ErrMalformedContainer, el.id, el.start, size, end-el.data)
	}
	el.size = int64(size)
	return el, nil
}

// readVint decodes an EBML variable-length integer of at most maxLen bytes. The number of
// leading zero bits in the first byte gives the length. IDs keep the marker bit, sizes drop it.
func (er *ebmlReader) readVint(maxLen int, keepMarker bool) (value uint64, length int, allOnes bool, err error) {
	if _, err = io.ReadFull(er.r, er.buf[:1]); err != nil {
		return 0, 0, false, err
	}
	first := er.buf[0]
	length = bits.LeadingZeros8(first) + 1
	if first == 0 || length > maxLen {
		return 0, 0, false, fmt.Errorf("%w: invalid variable-length integer lead byte %#x at offset %d", ErrMalformedContainer, first, er.pos)
	}
	if length > 1 {
		if _, err = io.ReadFull(er.r, er.buf[1:length]); err != nil {
			return 0, 0, false, err
		}
	}

	mask := byte(0xFF) >> length
	value = uint64(first & mask)
	allOnes = first&mask == mask
	for _, b := range er.buf[1:length] {
		value = value<<8 | uint64(b)
		allOnes = allOnes && b == 0xFF
	}
	if keepMarker {
		value |= uint64(first&^mask) << (8 * (length - 1))
	}
	return value, length, allOnes, nil
}

func (er *ebmlReader) malformed(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s at offset %d", ErrMalformedContainer, what, er.pos)
	}
	return err
}

func (er *ebmlReader) payload(el ebmlElement) ([]byte, error) {
	buf := make([]byte, el.size)
	if _, err := er.r.Seek(el.data, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(er.r, buf); err != nil {
		return nil, er.malformed(err, fmt.Sprintf("payload of element %#x", el.id))
	}
	return buf, nil
}

// readInt decodes a signed big-endian integer element of up to eight bytes.
func (er *ebmlReader) readInt(el ebmlElement) (int64, error) {
	if el.size == unknownSize || el.size > 8 {
		return 0, fmt.Errorf("%w: integer element %#x has size %d", ErrMalformedContainer, el.id, el.size)
	}
	if el.size == 0 {
		return 0, nil
	}
	buf, err := er.payload(el)
	if err != nil {
		return 0, err
	}
	var v int64
	if buf[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range buf {
		v = v<<8 | int64(b)
	}
	return v, nil
}

func (er *ebmlReader) readString(el ebmlElement) (string, error) {
	buf, err := er.payload(el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimRight(string(buf), "\x00")), nil
}
