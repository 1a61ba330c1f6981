package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/carelens/internal/ingest"
	"github.com/hyperjump/carelens/internal/models"
)

type call struct {
	kind      string
	patientID string
	path      string
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeIngester) IngestFile(_ context.Context, path string, rt models.RecordType) (*models.IngestResult, error) {
	if rt == "" {
		var err error
		if rt, err = ingest.InferRecordType(path); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{kind: string(rt), path: path})
	f.mu.Unlock()
	return &models.IngestResult{RecordType: rt, Added: 1}, nil
}

func (f *fakeIngester) IngestDocument(_ context.Context, patientID, path string) (*models.IngestResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{kind: "document", patientID: patientID, path: path})
	f.mu.Unlock()
	return &models.IngestResult{RecordType: models.RecordClientDocument, Added: 1}, nil
}

func (f *fakeIngester) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeIngester) find(base string) (call, bool) {
	for _, c := range f.snapshot() {
		if filepath.Base(c.path) == base {
			return c, true
		}
	}
	return call{}, false
}

var inboxExts = []string{".csv", ".xlsx", ".txt", ".pdf"}

func TestInbox_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewInbox(nil, inboxExts, true, &fakeIngester{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 1 {
		t.Errorf("duplicate root added: %v", w.Directories())
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestInbox_SyncExistingFiles_routesTablesAndAttachments(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "client_measures.csv"), "client_id\n")
	mustWrite(t, filepath.Join(dir, "P001", "referral.txt"), "Referred for anxiety.")
	mustWrite(t, filepath.Join(dir, "loose.txt"), "no patient")
	mustWrite(t, filepath.Join(dir, "P001", "scan.bmp"), "ignored")

	ing := &fakeIngester{}
	var mu sync.Mutex
	var failed []Event
	w := NewInbox([]string{dir}, inboxExts, true, ing, WithNotify(func(ev Event) {
		if ev.Err != nil {
			mu.Lock()
			failed = append(failed, ev)
			mu.Unlock()
		}
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	if c, ok := ing.find("client_measures.csv"); !ok || c.kind != string(models.RecordMeasure) {
		t.Errorf("measures export: %+v (found %v)", c, ok)
	}
	if c, ok := ing.find("referral.txt"); !ok || c.kind != "document" || c.patientID != "P001" {
		t.Errorf("attachment: %+v (found %v)", c, ok)
	}
	if _, ok := ing.find("scan.bmp"); ok {
		t.Error("scan.bmp should be filtered by extension")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || !errors.Is(failed[0].Err, ErrNoPatient) {
		t.Errorf("expected one ErrNoPatient failure, got %+v", failed)
	}
}

func TestInbox_DebouncedNewFile(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	w := NewInbox([]string{dir}, inboxExts, true, ing, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	mustWrite(t, filepath.Join(dir, "patient_appointments.csv"), "appointment_id\n")
	waitFor(t, func() bool {
		c, ok := ing.find("patient_appointments.csv")
		return ok && c.kind == string(models.RecordDetailedAppointment)
	})
}

func TestInbox_NewPatientDirectory(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	w := NewInbox([]string{dir}, inboxExts, true, ing, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	mustWrite(t, filepath.Join(dir, "P002", "letters", "discharge.txt"), "Discharged.")
	waitFor(t, func() bool {
		c, ok := ing.find("discharge.txt")
		return ok && c.patientID == "P002"
	})
}

func TestInbox_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "exports")
	w := NewInbox([]string{root}, inboxExts, true, &fakeIngester{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestPatientFromPath(t *testing.T) {
	tests := []struct {
		root, path string
		want       string
		wantErr    bool
	}{
		{"/inbox", "/inbox/P001/letter.pdf", "P001", false},
		{"/inbox", "/inbox/P001/2025/letter.pdf", "P001", false},
		{"/inbox", "/inbox/letter.pdf", "", true},
		{"/inbox", "/other/P001/letter.pdf", "", true},
	}
	for _, tt := range tests {
		got, err := PatientFromPath(tt.root, tt.path)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("PatientFromPath(%q, %q) = %q, %v", tt.root, tt.path, got, err)
		}
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.csv", []string{".csv"}, true},
		{"/a/b.XLSX", []string{"xlsx"}, true},
		{"/a/b.md", []string{".csv"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}
