package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"screenpilot/internal/parser"
	"screenpilot/internal/rag"
)

const settleDelay = 500 * time.Millisecond

// Uploader is satisfied by *rag.RAG.
type Uploader interface {
	Reindex(ctx context.Context, docID, filename string, data []byte) (*rag.UploadResult, error)
}

// DocumentID is stable for a path, so indexing a file again replaces its
// chunks instead of adding a second copy.
func DocumentID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String(), nil
}

// Files returns the supported regular files matching a doublestar pattern,
// e.g. "docs/**/*.pdf".
func Files(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() || !parser.Supported(m) {
			continue
		}
		files = append(files, m)
	}
	return files, nil
}

// Run uploads every file matching pattern. Failed files are logged and
// skipped; the number of indexed files is returned.
func Run(ctx context.Context, up Uploader, pattern string) (int, error) {
	files, err := Files(pattern)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := uploadFile(ctx, up, f); err != nil {
			log.Error().Err(err).Str("file", f).Msg("Error indexing file")
			continue
		}
		indexed++
	}
	log.Info().Int("indexed", indexed).Int("matched", len(files)).Str("pattern", pattern).Msg("Ingest finished")
	return indexed, nil
}

func uploadFile(ctx context.Context, up Uploader, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	docID, err := DocumentID(path)
	if err != nil {
		return err
	}
	res, err := up.Reindex(ctx, docID, filepath.Base(path), data)
	if err != nil {
		return err
	}
	log.Info().Str("file", path).Str("document_id", res.DocumentID).Int("chunks", res.ChunksCreated).Msg("Indexed file")
	return nil
}

// Watcher re-indexes files under the pattern's base directory when they are
// created or written. Subdirectories are not watched.
type Watcher struct {
	up      Uploader
	pattern string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewWatcher(up Uploader, pattern string) (*Watcher, error) {
	// event names are cleaned paths
	pattern = filepath.Clean(pattern)
	if !doublestar.ValidatePathPattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.FromSlash(base)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", base, err)
	}
	return &Watcher{up: up, pattern: pattern, watcher: w, pending: make(map[string]*time.Timer)}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	ready := make(chan string)
	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if match, _ := doublestar.PathMatch(w.pattern, ev.Name); !match || !parser.Supported(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name, ready)
		case name := <-ready:
			if err := uploadFile(ctx, w.up, name); err != nil {
				log.Error().Err(err).Str("file", name).Msg("Error indexing file")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// schedule coalesces the burst of events a single copy produces.
func (w *Watcher) schedule(ctx context.Context, name string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[name]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		current := w.pending[name] == t
		if current {
			delete(w.pending, name)
		}
		w.mu.Unlock()
		// a newer event rescheduled the file while this one was firing
		if !current {
			return
		}
		select {
		case ready <- name:
		case <-ctx.Done():
		}
	})
	w.pending[name] = t
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
}
