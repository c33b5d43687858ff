package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/at-wat/ebml-go"
)

// ebmlID encodes an element ID, which already carries its length marker.
func ebmlID(id uint32) []byte {
	switch {
	case id > 0xFFFFFF:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFF:
		return []byte{byte(id >> 8), byte(id)}
	}
	return []byte{byte(id)}
}

func ebmlSize(n int) []byte {
	switch {
	case n < 0x7F:
		return []byte{0x80 | byte(n)}
	case n < 0x3FFF:
		return []byte{0x40 | byte(n>>8), byte(n)}
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	b[0] = 0x01
	return b
}

func element(id uint32, children ...[]byte) []byte {
	payload := bytes.Join(children, nil)
	out := append(ebmlID(id), ebmlSize(len(payload))...)
	return append(out, payload...)
}

// unknownElement writes an element whose size field is all ones.
func unknownElement(id uint32, children ...[]byte) []byte {
	out := append(ebmlID(id), 0xFF)
	return append(out, bytes.Join(children, nil)...)
}

func intElement(id uint32, v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return element(id, b)
}

func stringElement(id uint32, s string) []byte {
	return element(id, []byte(s))
}

func ebmlHeader() []byte {
	return element(idEBML,
		intElement(0x4286, 1),
		stringElement(0x4282, "matroska"),
	)
}

func appleTag(value string) []byte {
	return element(idTags,
		element(idTag,
			element(idSimpleTag,
				stringElement(idTagName, AppleCreationDateTag),
				stringElement(idTagString, value),
			),
		),
	)
}

// countingReader records how many payload bytes were actually read.
type countingReader struct {
	*bytes.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.read += n
	return n, err
}

func readMatroskaBytes(b []byte) (time.Time, error) {
	return ReadMatroska(bytes.NewReader(b), int64(len(b)))
}

func TestReadMatroskaDateUTC(t *testing.T) {
	tests := []struct {
		name string
		ns   int64
		want int64
	}{
		{"matroska epoch", 0, MatroskaEpoch},
		{"2023-01-15", 695436724000000000, 1673743924},
		{"2023-01-01", 694224000000000000, 1672531200},
		{"before 2001", -1000000000, MatroskaEpoch - 1},
		{"fractional second is floored", 695436724999999999, 1673743924},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := append(ebmlHeader(), element(idSegment,
				element(idInfo,
					intElement(0x2AD7B1, 1000000),
					intElement(idDateUTC, tt.ns),
				),
			)...)
			created, err := readMatroskaBytes(file)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if created.Unix() != tt.want {
				t.Errorf("got %d, want %d", created.Unix(), tt.want)
			}
			if created.Location() != time.UTC {
				t.Errorf("location = %v, want UTC", created.Location())
			}
		})
	}
}

func TestReadMatroskaShortDateUTC(t *testing.T) {
	// Integers may be stored in fewer than eight bytes and are sign-extended.
	file := append(ebmlHeader(), element(idSegment,
		element(idInfo, element(idDateUTC, []byte{0xC4, 0x65, 0x36, 0x00})),
	)...)
	created, err := readMatroskaBytes(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Unix() != MatroskaEpoch-1 {
		t.Errorf("got %d, want %d", created.Unix(), MatroskaEpoch-1)
	}

	file = append(ebmlHeader(), element(idSegment,
		element(idInfo, element(idDateUTC, []byte{0x3B, 0x9A, 0xCA, 0x00})),
	)...)
	created, err = readMatroskaBytes(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Unix() != MatroskaEpoch+1 {
		t.Errorf("got %d, want %d", created.Unix(), MatroskaEpoch+1)
	}
}

func TestReadMatroskaSkipsClusters(t *testing.T) {
	cluster := element(idCluster, make([]byte, 64*1024))
	file := append(ebmlHeader(), element(idSegment,
		element(idSeekHead, make([]byte, 32)),
		cluster,
		cluster,
		element(idInfo, intElement(idDateUTC, 695436724000000000)),
	)...)

	r := &countingReader{Reader: bytes.NewReader(file)}
	created, err := ReadMatroska(r, int64(len(file)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Unix() != 1673743924 {
		t.Errorf("got %d, want 1673743924", created.Unix())
	}
	if r.read > 1024 {
		t.Errorf("read %d bytes, cluster payloads should have been skipped", r.read)
	}
}

func TestReadMatroskaUnknownSize(t *testing.T) {
	tests := []struct {
		name string
		file []byte
		want int64
		err  error
	}{
		{
			name: "unknown size segment",
			file: append(ebmlHeader(), unknownElement(idSegment,
				element(idInfo, intElement(idDateUTC, 695436724000000000)),
				unknownElement(idCluster, make([]byte, 100)),
			)...),
			want: 1673743924,
		},
		{
			name: "unknown size info ends at next segment child",
			file: append(ebmlHeader(), unknownElement(idSegment,
				unknownElement(idInfo, intElement(idDateUTC, 0)),
				element(idTracks, make([]byte, 10)),
				appleTag("2023-04-12T02:19:01Z"),
			)...),
			want: 1681265941,
		},
		{
			name: "unknown size tag ends at the next tag",
			file: append(ebmlHeader(), element(idSegment,
				element(idInfo, intElement(idDateUTC, 695436724000000000)),
				element(idTags,
					unknownElement(idTag,
						element(idSimpleTag,
							stringElement(idTagName, "ENCODER"),
							stringElement(idTagString, "camera"),
						),
					),
					element(idTag,
						element(idSimpleTag,
							stringElement(idTagName, AppleCreationDateTag),
							stringElement(idTagString, "2023-04-12T02:19:01Z"),
						),
					),
				),
			)...),
			want: 1681265941,
		},
		{
			name: "info after unknown size cluster is not reached",
			file: append(ebmlHeader(), unknownElement(idSegment,
				unknownElement(idCluster, make([]byte, 100)),
				element(idInfo, intElement(idDateUTC, 0)),
			)...),
			err: ErrTimestampNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := readMatroskaBytes(tt.file)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("got error %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if created.Unix() != tt.want {
				t.Errorf("got %d, want %d", created.Unix(), tt.want)
			}
		})
	}
}

func TestReadMatroskaAppleCreationDate(t *testing.T) {
	file := append(ebmlHeader(), element(idSegment,
		element(idInfo, intElement(idDateUTC, 695436724000000000)),
		appleTag("2023-04-12T02:19:01Z"),
	)...)
	created, err := readMatroskaBytes(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Unix() != 1681265941 {
		t.Errorf("got %d, want 1681265941 from the Apple tag", created.Unix())
	}

	// A tag that does not parse leaves DateUTC in charge.
	file = append(ebmlHeader(), element(idSegment,
		element(idInfo, intElement(idDateUTC, 695436724000000000)),
		appleTag("yesterday"),
	)...)
	created, err = readMatroskaBytes(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Unix() != 1673743924 {
		t.Errorf("got %d, want 1673743924 from DateUTC", created.Unix())
	}

	// Without a zone offset the tag is ignored.
	for _, value := range []string{"2023-04-12T09:19:01", "2023-04-12 02:19:01Z"} {
		file = append(ebmlHeader(), element(idSegment,
			element(idInfo, intElement(idDateUTC, 695436724000000000)),
			appleTag(value),
		)...)
		created, err = readMatroskaBytes(file)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", value, err)
		}
		if created.Unix() != 1673743924 {
			t.Errorf("%s: got %d, want 1673743924 from DateUTC", value, created.Unix())
		}
	}

	// Offsets in the tag are honoured.
	file = append(ebmlHeader(), element(idSegment, appleTag("2023-04-12T12:19:01+1000"))...)
	created, err = readMatroskaBytes(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Unix() != 1681265941 {
		t.Errorf("got %d, want 1681265941", created.Unix())
	}
}

func TestReadMatroskaErrors(t *testing.T) {
	valid := append(ebmlHeader(), element(idSegment,
		element(idInfo, intElement(idDateUTC, 695436724000000000)),
	)...)

	tests := []struct {
		name string
		file []byte
		err  error
	}{
		{"empty file", []byte{}, ErrMalformedContainer},
		{"not EBML", []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, ErrMalformedContainer},
		{"wrong first element", element(idSegment), ErrMalformedContainer},
		{"truncated", valid[:len(valid)-3], ErrMalformedContainer},
		{"truncated size", append(ebmlHeader(), 0x18, 0x53, 0x80, 0x67, 0x01, 0x00), ErrMalformedContainer},
		{"size exceeds file", append(ebmlHeader(), append(ebmlID(idSegment), 0x88)...), ErrMalformedContainer},
		{"oversized DateUTC", append(ebmlHeader(), element(idSegment,
			element(idInfo, element(idDateUTC, make([]byte, 9))),
		)...), ErrMalformedContainer},
		{"header only", ebmlHeader(), ErrTimestampNotFound},
		{"no info", append(ebmlHeader(), element(idSegment, element(idTracks, make([]byte, 4)))...), ErrTimestampNotFound},
		{"no DateUTC", append(ebmlHeader(), element(idSegment, element(idInfo, intElement(0x2AD7B1, 1000000)))...), ErrTimestampNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readMatroskaBytes(tt.file)
			if !errors.Is(err, tt.err) {
				t.Errorf("got error %v, want %v", err, tt.err)
			}
		})
	}
}

type ebmlTestHeader struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

type ebmlTestInfo struct {
	TimecodeScale uint64
	DateUTC       time.Time
	MuxingApp     string
	WritingApp    string
}

type ebmlTestSegment struct {
	Info ebmlTestInfo
}

type ebmlTestContainer struct {
	Header  ebmlTestHeader  `ebml:"EBML"`
	Segment ebmlTestSegment `ebml:",size=unknown"`
}

func TestReadMatroskaFromEncoder(t *testing.T) {
	want := time.Date(2023, 1, 15, 0, 52, 4, 0, time.UTC)
	container := &ebmlTestContainer{
		Header: ebmlTestHeader{
			EBMLVersion:            1,
			EBMLReadVersion:        1,
			EBMLMaxIDLength:        4,
			EBMLMaxSizeLength:      8,
			EBMLDocType:            "matroska",
			EBMLDocTypeVersion:     4,
			EBMLDocTypeReadVersion: 2,
		},
		Segment: ebmlTestSegment{
			Info: ebmlTestInfo{
				TimecodeScale: 1000000,
				DateUTC:       want,
				MuxingApp:     "test",
				WritingApp:    "test",
			},
		},
	}

	var buf bytes.Buffer
	if err := ebml.Marshal(container, &buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}

	created, err := ReadMatroska(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created.Equal(want) {
		t.Errorf("got %v, want %v", created, want)
	}
	if created.Unix() != 1673743924 {
		t.Errorf("got %d, want 1673743924", created.Unix())
	}
}

var _ io.ReadSeeker = (*countingReader)(nil)
