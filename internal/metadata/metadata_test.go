package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  error
	}{
		{"clip.mkv", FormatMatroska, nil},
		{"CLIP.MKV", FormatMatroska, nil},
		{"dir.mp4/clip.MkV", FormatMatroska, nil},
		{"IMG_4792.MOV", FormatMP4, nil},
		{"clip.m4v", FormatMP4, nil},
		{"/videos/clip.mp4", FormatMP4, nil},
		{"notes.txt", FormatUnknown, ErrUnsupportedFormat},
		{"clip.webm", FormatUnknown, ErrUnsupportedFormat},
		{"mkv", FormatUnknown, ErrUnsupportedFormat},
		{"clip.", FormatUnknown, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got error %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreationDateUnsupportedReadsNothing(t *testing.T) {
	// The file does not exist, so any attempt to open it would fail differently.
	_, _, err := CreationDate(filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestCreationDate(t *testing.T) {
	dir := t.TempDir()

	mkv := filepath.Join(dir, "clip.mkv")
	file := append(ebmlHeader(), element(idSegment,
		element(idInfo, intElement(idDateUTC, 695436724000000000)),
	)...)
	if err := os.WriteFile(mkv, file, 0644); err != nil {
		t.Fatal(err)
	}
	created, format, err := CreationDate(mkv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format != FormatMatroska || created.Unix() != 1673743924 {
		t.Errorf("got %v %d, want matroska 1673743924", format, created.Unix())
	}

	// An MP4 with a .mkv extension is read as Matroska and rejected.
	wrong := filepath.Join(dir, "wrong.mkv")
	if err := os.WriteFile(wrong, box("moov", mvhdV0(3692217124)), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := CreationDate(wrong); !errors.Is(err, ErrMalformedContainer) {
		t.Errorf("got %v, want ErrMalformedContainer", err)
	}

	if _, _, err := CreationDate(filepath.Join(dir, "missing.mov")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want not exist", err)
	}

	folder := filepath.Join(dir, "folder.mkv")
	if err := os.Mkdir(folder, 0755); err != nil {
		t.Fatal(err)
	}
	if _, _, err := CreationDate(folder); err == nil {
		t.Error("expected an error for a directory")
	}
}

func TestCreationDateFromFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
		want   int64
		err    error
	}{
		{"create date", map[string]interface{}{"CreateDate": "2020:12:31 00:32:04"}, 1609374724, nil},
		{"zero create date falls through", map[string]interface{}{
			"CreateDate":      "0000:00:00 00:00:00",
			"MediaCreateDate": "2023:04:12 02:19:01",
		}, 1681265941, nil},
		{"with offset", map[string]interface{}{"TrackCreateDate": "2023:04:12 12:19:01+10:00"}, 1681265941, nil},
		{"nothing usable", map[string]interface{}{"FileSize": "1 MB"}, 0, ErrTimestampNotFound},
		{"garbage", map[string]interface{}{"CreateDate": "soon"}, 0, ErrTimestampNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := CreationDateFromFields(tt.fields)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got error %v, want %v", err, tt.err)
			}
			if tt.err == nil && created.Unix() != tt.want {
				t.Errorf("got %d, want %d", created.Unix(), tt.want)
			}
		})
	}
}
