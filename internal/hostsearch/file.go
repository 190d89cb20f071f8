package hostsearch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v3"
)

// Catalog is the on-disk shape of a FileService.
type Catalog struct {
	Current string       `yaml:"current,omitempty" json:"current,omitempty"`
	Engines []HostEngine `yaml:"engines" json:"engines"`
}

// FileService is a MemoryService backed by a catalog file (YAML, or JSON
// when the name ends in .json). Edits to the file are picked up through
// fsnotify and announced as added/removed/changed notifications; changes
// made through the service are written back atomically.
type FileService struct {
	*MemoryService
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once

	writeMu     sync.Mutex
	lastWritten []byte
}

// OpenFileService loads path (a missing file is an empty catalog) and starts
// watching it. Close stops the watcher.
func OpenFileService(path string, opts ...MemoryOption) (*FileService, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cat, err := decodeCatalog(abs, b)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch catalog dir: %w", err)
	}
	ms := newMemoryService(cat.Engines, opts...)
	ms.current = cat.Current
	f := &FileService{
		MemoryService: ms,
		path:          abs,
		watcher:       w,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		lastWritten:   b,
	}
	ms.mutated = f.persist
	go f.run()
	return f, nil
}

// Path is the absolute catalog path.
func (f *FileService) Path() string { return f.path }

func (f *FileService) run() {
	defer close(f.doneCh)
	for {
		select {
		case <-f.stopCh:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := f.Reload(); err != nil {
				log.Warn().Err(err).Str("path", f.path).Msg("catalog reload failed")
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", f.path).Msg("catalog watcher error")
		}
	}
}

// Reload re-reads the catalog and notifies the differences. Content equal
// to the last write made by the service is ignored.
func (f *FileService) Reload() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		// Mid-rename or deleted; a later event settles it.
		return nil
	}
	if err != nil {
		return err
	}
	// Empty content is a truncate in progress.
	if len(bytes.TrimSpace(b)) == 0 || bytes.Equal(b, f.lastWritten) {
		return nil
	}
	cat, err := decodeCatalog(f.path, b)
	if err != nil {
		return err
	}
	f.lastWritten = b
	log.Debug().Str("path", f.path).Int("engines", len(cat.Engines)).Msg("catalog reloaded")
	f.replace(cat.Engines, cat.Current)
	return nil
}

func (f *FileService) persist() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	engines, current := f.snapshot()
	b, err := encodeCatalog(f.path, Catalog{Current: current, Engines: engines})
	if err != nil {
		log.Warn().Err(err).Msg("encode catalog")
		return
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("write catalog")
		return
	}
	if err := os.Rename(tmp, f.path); err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("replace catalog")
		return
	}
	f.lastWritten = b
}

// Close stops watching. It is safe to call more than once.
func (f *FileService) Close() error {
	var err error
	f.once.Do(func() {
		close(f.stopCh)
		err = f.watcher.Close()
		<-f.doneCh
	})
	return err
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func decodeCatalog(path string, b []byte) (Catalog, error) {
	var cat Catalog
	if len(bytes.TrimSpace(b)) == 0 {
		return cat, nil
	}
	var err error
	if isJSON(path) {
		err = json.Unmarshal(b, &cat)
	} else {
		err = yaml.Unmarshal(b, &cat)
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, e := range cat.Engines {
		if strings.TrimSpace(e.Name) == "" {
			return Catalog{}, fmt.Errorf("parse catalog %s: engine %d has no name", path, i)
		}
	}
	return cat, nil
}

func encodeCatalog(path string, cat Catalog) ([]byte, error) {
	if isJSON(path) {
		return json.MarshalIndent(cat, "", "  ")
	}
	return yaml.Marshal(cat)
}
