package library

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAlbum holds every non-circular recording
	DefaultAlbum = "Sound records"
	// Artist is stamped on every committed item
	Artist = "Recorder"

	recordingsDir = "Recordings"
	indexFile     = "index.yaml"
)

var (
	ErrCommitFailed = errors.New("failed to commit recording to library")
	ErrDeleteFailed = errors.New("failed to delete library item")
	ErrNotFound     = errors.New("library item not found")
)

// Item is one indexed recording
type Item struct {
	Ref      string    `json:"ref" yaml:"ref"`
	Title    string    `json:"title" yaml:"title"`
	Album    string    `json:"album" yaml:"album"`
	Artist   string    `json:"artist" yaml:"artist"`
	MimeType string    `json:"mime_type" yaml:"mime_type"`
	Path     string    `json:"path" yaml:"path"`
	Size     int64     `json:"size" yaml:"size"`
	Added    time.Time `json:"added" yaml:"added"`
	Pending  bool      `json:"pending,omitempty" yaml:"pending,omitempty"`
}

type index struct {
	Items []Item `yaml:"items"`
}

// Library is a directory of recordings grouped into albums, with a YAML
// index mapping item references to files
type Library struct {
	root string

	mu    sync.Mutex
	items map[string]Item
}

// Open loads the library rooted at dir, creating it if needed
func Open(dir string) (*Library, error) {
	if dir == "" {
		return nil, fmt.Errorf("library directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}

	l := &Library{root: dir, items: make(map[string]Item)}

	data, err := os.ReadFile(l.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to read library index: %w", err)
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse library index: %w", err)
	}
	for _, item := range idx.Items {
		l.items[item.Ref] = item
	}

	slog.Debug("Library opened", "root", dir, "items", len(l.items))
	return l, nil
}

// Root returns the library directory
func (l *Library) Root() string {
	return l.root
}

func (l *Library) indexPath() string {
	return filepath.Join(l.root, indexFile)
}

// AlbumDir returns the directory holding album's recordings
func (l *Library) AlbumDir(album string) string {
	return filepath.Join(l.root, recordingsDir, sanitize(album))
}

// Commit copies the finished recording at tempPath into album, indexes it
// and removes the temp file. An empty album means DefaultAlbum.
func (l *Library) Commit(tempPath, album, mimeType string) (Item, error) {
	if album == "" {
		album = DefaultAlbum
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	dir := l.AlbumDir(album)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Item{}, fmt.Errorf("%w: failed to create album directory: %v", ErrCommitFailed, err)
	}

	name := filepath.Base(tempPath)
	item := Item{
		Ref:      uuid.NewString(),
		Title:    name,
		Album:    album,
		Artist:   Artist,
		MimeType: mimeType,
		Added:    time.Now().UTC().Truncate(time.Second),
		Pending:  true,
	}

	// Reserve the destination name and publish the pending entry
	l.mu.Lock()
	item.Path = l.uniquePath(dir, name)
	l.items[item.Ref] = item
	err = l.saveLocked()
	l.mu.Unlock()
	if err != nil {
		l.forget(item.Ref)
		return Item{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if err := copyFile(tempPath, item.Path); err != nil {
		slog.Error("Failed to write recording into library", "source", tempPath, "dest", item.Path, "error", err)
		os.Remove(item.Path)
		l.forget(item.Ref)
		return Item{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	item.Pending = false
	item.Size = info.Size()

	l.mu.Lock()
	l.items[item.Ref] = item
	err = l.saveLocked()
	l.mu.Unlock()
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if err := os.Remove(tempPath); err != nil {
		slog.Warn("Failed to delete temp recording", "path", tempPath, "error", err)
	}

	slog.Info("Recording committed", "ref", item.Ref, "album", album, "path", item.Path)
	return item, nil
}

// Delete removes the item's file and index entry
func (l *Library) Delete(ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[ref]
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrDeleteFailed, ErrNotFound, ref)
	}

	if err := os.Remove(item.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	delete(l.items, ref)
	if err := l.saveLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	slog.Info("Library item deleted", "ref", ref, "path", item.Path)
	return nil
}

// Get looks up an item by reference
func (l *Library) Get(ref string) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[ref]
	return item, ok
}

// List returns all items, oldest first
func (l *Library) List() []Item {
	l.mu.Lock()
	items := make([]Item, 0, len(l.items))
	for _, item := range l.items {
		items = append(items, item)
	}
	l.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Added.Equal(items[j].Added) {
			return items[i].Path < items[j].Path
		}
		return items[i].Added.Before(items[j].Added)
	})
	return items
}

func (l *Library) forget(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, ref)
	if err := l.saveLocked(); err != nil {
		slog.Warn("Failed to save library index", "error", err)
	}
}

// uniquePath picks a file name in dir not used on disk or by another
// index entry, appending " (n)" before the extension
func (l *Library) uniquePath(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 1; l.taken(candidate); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return candidate
}

func (l *Library) taken(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	for _, item := range l.items {
		if item.Path == path {
			return true
		}
	}
	return false
}

// saveLocked writes the index atomically. Caller holds l.mu.
func (l *Library) saveLocked() error {
	idx := index{Items: make([]Item, 0, len(l.items))}
	for _, item := range l.items {
		idx.Items = append(idx.Items, item)
	}
	sort.Slice(idx.Items, func(i, j int) bool { return idx.Items[i].Ref < idx.Items[j].Ref })

	data, err := yaml.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("failed to marshal library index: %w", err)
	}

	tmp := l.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write library index: %w", err)
	}
	if err := os.Rename(tmp, l.indexPath()); err != nil {
		return fmt.Errorf("failed to replace library index: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sanitize keeps album names usable as a single path element
func sanitize(album string) string {
	album = strings.ReplaceAll(album, string(filepath.Separator), "_")
	if album == "." || album == ".." || album == "" {
		return DefaultAlbum
	}
	return album
}
