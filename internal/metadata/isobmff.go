package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// MacEpochDelta is the number of seconds between 1904-01-01 and 1970-01-01.
const MacEpochDelta = 2082844800

const (
	movieResourceBoxType   = "moov"
	movieHeaderBoxType     = "mvhd"
	compressedMovieBoxType = "cmov"
)

// ReadMP4 finds moov/mvhd in an ISO-BMFF (MP4, QuickTime) file of the given length and returns
// its creation time. Boxes are located with positioned reads, so skipped payloads such as mdat
// are never read.
func ReadMP4(r io.ReaderAt, size int64) (time.Time, error) {
	if size < 8 {
		return time.Time{}, fmt.Errorf("%w: file too short for a box header (%d bytes)", ErrMalformedContainer, size)
	}
	file := io.NewSectionReader(r, 0, size)

	moov, err := searchBox(file, 0, movieResourceBoxType)
	if err != nil {
		return time.Time{}, err
	}
	if moov == nil {
		return time.Time{}, fmt.Errorf("%w: no moov box", ErrTimestampNotFound)
	}

	mvhd, err := searchBox(moov.body, moov.offset, movieHeaderBoxType)
	if err != nil {
		return time.Time{}, err
	}
	if mvhd == nil {
		if cmov, _ := searchBox(moov.body, moov.offset, compressedMovieBoxType); cmov != nil {
			return time.Time{}, fmt.Errorf("%w: compressed movie header (cmov) is not supported", ErrTimestampNotFound)
		}
		return time.Time{}, fmt.Errorf("%w: no mvhd box in moov", ErrTimestampNotFound)
	}
	return readMovieHeader(mvhd)
}

type mp4Box struct {
	boxType string
	offset  int64 // absolute offset of the payload, for messages
	body    *io.SectionReader
}

// searchBox scans the boxes of a container sequentially and returns the first one of the
// wanted type, or nil when the container holds none. base is the container's absolute offset.
func searchBox(in *io.SectionReader, base int64, boxTypeNeeded string) (*mp4Box, error) {
	var offset int64
	header := make([]byte, 16)
	for offset < in.Size() {
		remaining := in.Size() - offset
		if remaining < 8 {
			return nil, fmt.Errorf("%w: truncated box header at offset %d", ErrMalformedContainer, base+offset)
		}
		if err := readFullAt(in, header[:8], offset); err != nil {
			return nil, err
		}
		// 4 bytes for box length
		// 4 bytes for box type
		boxLength := uint64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		headerLength := int64(8)

		switch boxLength {
		case 1:
			// 8 more bytes for box large length
			if remaining < 16 {
				return nil, fmt.Errorf("%w: truncated large size of box %q at offset %d", ErrMalformedContainer, boxType, base+offset)
			}
			if err := readFullAt(in, header[8:16], offset+8); err != nil {
				return nil, err
			}
			boxLength = binary.BigEndian.Uint64(header[8:16])
			headerLength = 16
		case 0:
			boxLength = uint64(remaining)
		}

		if boxLength < uint64(headerLength) {
			return nil, fmt.Errorf("%w: box %q at offset %d declares size %d, smaller than its header", ErrMalformedContainer, boxType, base+offset, boxLength)
		}
		if boxLength > uint64(remaining) {
			return nil, fmt.Errorf("%w: box %q at offset %d declares %d bytes, only %d remain", ErrMalformedContainer, boxType, base+offset, boxLength, remaining)
		}

		if boxType == boxTypeNeeded {
			bodyLength := int64(boxLength) - headerLength
			return &mp4Box{
				boxType: boxType,
				offset:  base + offset + headerLength,
				body:    io.NewSectionReader(in, offset+headerLength, bodyLength),
			}, nil
		}
		offset += int64(boxLength)
	}
	return nil, nil
}

// readMovieHeader decodes the creation time of an mvhd payload. Version 0 stores it in 32 bits,
// version 1 in 64 bits; both count seconds since 1904-01-01 UTC.
func readMovieHeader(mvhd *mp4Box) (time.Time, error) {
	buf := make([]byte, 12)
	if mvhd.body.Size() < 4 {
		return time.Time{}, fmt.Errorf("%w: truncated mvhd at offset %d", ErrMalformedContainer, mvhd.offset)
	}
	if err := readFullAt(mvhd.body, buf[:4], 0); err != nil {
		return time.Time{}, err
	}
	// byte 1 is version, bytes 2-4 are flags
	version := buf[0]

	var created uint64
	switch version {
	case 0:
		if mvhd.body.Size() < 8 {
			return time.Time{}, fmt.Errorf("%w: truncated version 0 mvhd at offset %d", ErrMalformedContainer, mvhd.offset)
		}
		if err := readFullAt(mvhd.body, buf[4:8], 4); err != nil {
			return time.Time{}, err
		}
		created = uint64(binary.BigEndian.Uint32(buf[4:8]))
	case 1:
		if mvhd.body.Size() < 12 {
			return time.Time{}, fmt.Errorf("%w: truncated version 1 mvhd at offset %d", ErrMalformedContainer, mvhd.offset)
		}
		if err := readFullAt(mvhd.body, buf[4:12], 4); err != nil {
			return time.Time{}, err
		}
		created = binary.BigEndian.Uint64(buf[4:12])
	default:
		return time.Time{}, fmt.Errorf("%w: unknown mvhd version %d", ErrMalformedContainer, version)
	}

	if created == 0 {
		return time.Time{}, fmt.Errorf("%w: mvhd creation time is unset", ErrTimestampNotFound)
	}
	if created > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("%w: mvhd creation time %d out of range", ErrMalformedContainer, created)
	}
	return time.Unix(int64(created)-MacEpochDelta, 0).UTC(), nil
}

func readFullAt(in *io.SectionReader, p []byte, off int64) error {
	n, err := in.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected end of file at offset %d", ErrMalformedContainer, off)
	}
	return err
}
