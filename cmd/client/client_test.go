package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wezm/mkv-rename/internal/logging"
	"github.com/wezm/mkv-rename/internal/sortengine"
)

type fakeServer struct {
	mu       sync.Mutex
	requests []renameRequest
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/version":
		json.NewEncoder(w).Encode(map[string]string{"version": Version})
	case "/rename":
		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if strings.HasPrefix(filepath.Base(req.Path), "bad") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"status": "failed", "reason": "malformed container"})
			return
		}
		dir, base := filepath.Split(req.Path)
		status := "renamed"
		if req.DryRun {
			status = "planned"
		}
		json.NewEncoder(w).Encode(renameResponse{
			Status: status,
			Plan:   &sortengine.RenamePlan{From: req.Path, To: dir + "1 " + base, Epoch: 1},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, dryRun bool) (*Client, *fakeServer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	fake := &fakeServer{}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	config := sortengine.DefaultConfig()
	config.Client.Host = ts.URL
	config.DryRun = dryRun
	var out, errOut bytes.Buffer
	log := logging.NewLoggerTo(&out, &errOut, logging.ColorNever, false)
	return NewClient(config, t.TempDir(), log), fake, &out, &errOut
}

func TestWalkDirQueuesSupportedFiles(t *testing.T) {
	client, _, _, _ := newTestClient(t, false)
	if err := os.MkdirAll(filepath.Join(client.Root, "2023"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.mkv", "2023/b.MOV", "2023/notes.txt", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(client.Root, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := client.WalkDir(client.Root); err != nil {
		t.Fatal(err)
	}
	if len(client.FileList) != 2 {
		t.Errorf("queued %v, want the two videos", client.FileList)
	}
}

func TestRenameFiles(t *testing.T) {
	client, fake, out, errOut := newTestClient(t, true)
	client.FileList = []string{
		filepath.Join(client.Root, "2023", "clip.mkv"),
		filepath.Join(client.Root, "bad.mkv"),
	}

	if client.RenameFiles() {
		t.Error("RenameFiles reported success despite a failure")
	}
	if len(fake.requests) != 2 {
		t.Fatalf("sent %d requests, want 2", len(fake.requests))
	}
	if fake.requests[0].Path != "2023/clip.mkv" || !fake.requests[0].DryRun {
		t.Errorf("unexpected request %+v", fake.requests[0])
	}
	if !strings.Contains(out.String(), "would rename: ") || !strings.Contains(out.String(), "1 clip.mkv") {
		t.Errorf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "Error processing "+client.FileList[1]+": malformed container") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestCheckVersion(t *testing.T) {
	client, _, _, errOut := newTestClient(t, false)
	if err := client.CheckVersion(); err != nil {
		t.Fatal(err)
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected warning: %s", errOut.String())
	}
}
