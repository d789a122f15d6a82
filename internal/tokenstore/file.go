package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const tempPrefix = ".tmp-"

// observed is the last value an instance wrote or announced for a key.
type observed struct {
	value   string
	present bool
}

// FileStore keeps one file per key in a directory. Several processes pointing
// at the same directory share their values; changes made by one are picked
// up by the others through fsnotify.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	seen     map[string]observed
	watcher  *fsnotify.Watcher
	watchers map[int]func(Change)
	nextID   int
	closed   bool
}

var _ Backend = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted at it.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{
		dir:      dir,
		logger:   logger,
		seen:     make(map[string]observed),
		watchers: make(map[int]func(Change)),
	}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	return s.read(key)
}

func (s *FileStore) read(key string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes value to a temporary file and renames it over the key file so
// readers never observe a partial value.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, tempPrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}

	s.seen[key] = observed{value: value, present: true}
	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[key] = observed{}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch starts watching the directory on first use.
func (s *FileStore) Watch(_ context.Context, fn func(Change)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("tokenstore: file store closed")
	}
	if s.watcher == nil {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}

	id := s.nextID
	s.nextID++
	s.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *FileStore) startLocked() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	// Seed the observed values so the first event is compared against what
	// was on disk when watching began.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		fsw.Close()
		return fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || checkKey(name) != nil {
			continue
		}
		if _, ok := s.seen[name]; ok {
			continue
		}
		if v, ok, err := s.read(name); err == nil {
			s.seen[name] = observed{value: v, present: ok}
		}
	}

	s.watcher = fsw
	go s.processEvents(fsw)

	s.logger.Debug("Watching token store", "dir", s.dir)
	return nil
}

func (s *FileStore) processEvents(fsw *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Token store watcher error", "error", err)
		}
	}
}

func (s *FileStore) handleFSEvent(event fsnotify.Event) {
	key := filepath.Base(event.Name)
	if strings.HasPrefix(key, tempPrefix) || checkKey(key) != nil {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	s.mu.Lock()
	value, present, err := s.read(key)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("Failed to read changed key", "key", key, "error", err)
		return
	}
	// An unknown key counts as absent.
	prev := s.seen[key]
	if prev.present == present && prev.value == value {
		s.mu.Unlock()
		return
	}
	s.seen[key] = observed{value: value, present: present}
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("External token store change", "key", key, "present", present)
	for _, fn := range fns {
		fn(Change{Key: key, Value: value, Present: present})
	}
}

// Close stops watching. The files are left in place.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.watchers = make(map[int]func(Change))
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
