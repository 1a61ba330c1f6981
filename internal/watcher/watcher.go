// Package watcher ingests exports and attachments dropped into inbox directories. Tables
// (CSV/XLSX) are ingested with a record type inferred from the file name; any other file
// is an attachment of the patient named by its first subdirectory under the inbox root.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/carelens/internal/ingest"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// ErrNoPatient is returned for attachments placed directly in an inbox root.
var ErrNoPatient = errors.New("attachment is not inside a patient directory")

// Ingester is the ingestion surface the inbox drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string, rt models.RecordType) (*models.IngestResult, error)
	IngestDocument(ctx context.Context, patientID, path string) (*models.IngestResult, error)
}

// Event reports the outcome of one inbox file.
type Event struct {
	Path   string
	Result *models.IngestResult
	Err    error
}

// Inbox watches directories and ingests files as they settle.
type Inbox struct {
	roots      []string
	extensions []string
	recursive  bool
	ingester   Ingester
	notify     func(Event)
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	watched  map[string][]string // root -> directories added to fsnotify
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the inbox logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Inbox) { w.logger = l }
}

// WithDebounce sets how long a file must stay unchanged before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Inbox) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithNotify registers a callback run after every ingested (or failed) file.
func WithNotify(fn func(Event)) Option {
	return func(w *Inbox) { w.notify = fn }
}

// NewInbox creates an inbox over roots. extensions filters which files are ingested
// (empty means all).
func NewInbox(roots, extensions []string, recursive bool, ing Ingester, opts ...Option) *Inbox {
	w := &Inbox{
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		ingester:   ing,
		debounce:   defaultDebounce,
		ctx:        context.Background(),
		pending:    make(map[string]*time.Timer),
		watched:    make(map[string][]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called; ingestion
// triggered by the inbox uses ctx.
func (w *Inbox) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("inbox starting",
		zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err == nil {
			w.roots[i] = abs
			err = w.addRootLocked(abs)
		}
		if err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	events, errs := fw.Events, fw.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Inbox) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("inbox watch error", zap.Error(err))
			}
		}
	}
}

func (w *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.rootOf(path) == "" {
		return
	}
	w.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matchExtension(path) {
			w.schedule(path)
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.cancel(path)
		if w.matchExtension(path) {
			w.logger.Info("inbox file removed, stored documents kept", zap.String("path", path))
		}
	}
}

// handleNewDirectory watches a directory created or moved into a root (and, when recursive,
// its subdirectories) and ingests the files already inside it.
func (w *Inbox) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := fw.Add(path); err != nil {
					w.logger.Debug("inbox failed to watch directory", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	} else if err := fw.Add(dir); err != nil {
		w.logger.Debug("inbox failed to watch directory", zap.String("path", dir), zap.Error(err))
	}
	w.syncDirectory(dir)
}

// rootOf returns the watched root containing path, or "".
func (w *Inbox) rootOf(path string) string {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		r := filepath.Clean(root)
		if r == clean || inDir(r, clean) {
			return r
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// PatientFromPath returns the patient id for an attachment: the name of the first
// directory below root on the way to path.
func PatientFromPath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || parts[0] == ".." || strings.TrimSpace(parts[0]) == "" {
		return "", fmt.Errorf("%w: %s", ErrNoPatient, path)
	}
	return parts[0], nil
}

func (w *Inbox) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Inbox) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Inbox) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// ingest routes one settled file to table or attachment ingestion.
func (w *Inbox) ingest(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()

	ev := Event{Path: path}
	if ingest.IsTable(filepath.Ext(path)) {
		ev.Result, ev.Err = w.ingester.IngestFile(ctx, path, "")
	} else if patientID, err := PatientFromPath(w.rootOf(path), path); err != nil {
		ev.Err = err
	} else {
		ev.Result, ev.Err = w.ingester.IngestDocument(ctx, patientID, path)
	}

	if ev.Err != nil {
		w.logger.Warn("inbox file not ingested", zap.String("path", path), zap.Error(ev.Err))
	} else {
		w.logger.Info("inbox file ingested",
			zap.String("path", path),
			zap.String("record_type", string(ev.Result.RecordType)),
			zap.Int("added", ev.Result.Added),
			zap.Int("errors", len(ev.Result.Errors)),
		)
	}
	if w.notify != nil {
		w.notify(ev)
	}
}

// AddDirectory adds an inbox root and optionally ingests the files already in it.
func (w *Inbox) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("inbox directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Inbox) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var dirs []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		dirs = append(dirs, root)
	}
	w.watched[root] = dirs
	return nil
}

func (w *Inbox) syncDirectory(dir string) {
	w.mu.Lock()
	exts := append([]string(nil), w.extensions...)
	recursive := w.recursive
	w.mu.Unlock()
	w.logger.Debug("inbox syncing directory", zap.String("dir", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, exts) {
			w.ingest(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Documents already ingested from it are kept.
func (w *Inbox) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.watched[abs] {
		_ = w.watcher.Remove(p)
	}
	delete(w.watched, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Debug("inbox directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the current inbox roots.
func (w *Inbox) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles ingests every matching file already present in the roots. Call it
// after Start to pick up files dropped while the inbox was not running.
func (w *Inbox) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops watching and cancels pending ingestion.
func (w *Inbox) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
