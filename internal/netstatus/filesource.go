package netstatus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileSource reports the status written to a plain text file, e.g. by a
// NetworkManager dispatcher script. The file holds one line in the form
// accepted by ParseStatus. The parent directory is watched so editors and
// atomic renames are picked up.
type FileSource struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileSource creates a source for the status file at path.
func NewFileSource(path string, log *zap.Logger) *FileSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileSource{path: path, log: log}
}

// Start reports the file's current content, if any, and then every change.
func (fs *FileSource) Start(ctx context.Context, report func(Status)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.watcher != nil {
		return fmt.Errorf("file source already running")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fs.watcher = w
	fs.done = make(chan struct{})

	fs.readAndReport(report)

	fs.wg.Add(1)
	go fs.loop(ctx, w, fs.done, report)
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (fs *FileSource) Stop() error {
	fs.mu.Lock()
	w, done := fs.watcher, fs.done
	fs.watcher = nil
	fs.mu.Unlock()
	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	fs.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (fs *FileSource) loop(ctx context.Context, w *fsnotify.Watcher, done <-chan struct{}, report func(Status)) {
	defer fs.wg.Done()
	target := filepath.Clean(fs.path)
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				fs.readAndReport(report)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			fs.log.Warn("network status watcher error", zap.Error(err))
		}
	}
}

func (fs *FileSource) readAndReport(report func(Status)) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		fs.log.Warn("read network status file", zap.String("path", fs.path), zap.Error(err))
		return
	}
	if len(data) == 0 {
		// Truncated mid-write; the following write event carries the content.
		return
	}
	s, err := ParseStatus(string(data))
	if err != nil {
		fs.log.Warn("invalid network status file", zap.String("path", fs.path), zap.Error(err))
		return
	}
	report(s)
}

// WriteStatusFile atomically replaces the status file at path with s.
func WriteStatusFile(path string, s Status) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(s.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
