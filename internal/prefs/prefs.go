// Package prefs persists the user preferences and recording flags that must
// survive daemon restarts.
package prefs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	KeyHighQuality        = "high_quality"
	KeyCircularRecording  = "circular_recording"
	KeyCircularPeriod     = "circular_period"
	KeyCircularNumber     = "circular_number"
	KeyTagWithLocation    = "tag_with_location"
	KeyCurrentlyRecording = "currently_recording"
	KeyLastItem           = "last_item"
	KeyOnboardSettings    = "onboard_settings"
	KeyOnboardList        = "onboard_list"
)

const (
	DefaultCircularPeriod = 3600
	DefaultCircularNumber = 3
)

// Values is the serialized form of the preference file
type Values struct {
	HighQuality        bool   `yaml:"high_quality"`
	CircularRecording  bool   `yaml:"circular_recording"`
	CircularPeriod     int64  `yaml:"circular_period"`
	CircularNumber     int    `yaml:"circular_number"`
	TagWithLocation    bool   `yaml:"tag_with_location"`
	CurrentlyRecording bool   `yaml:"currently_recording"`
	LastItem           string `yaml:"last_item,omitempty"`
	OnboardSettings    int    `yaml:"onboard_settings"`
	OnboardList        int    `yaml:"onboard_list"`
}

func defaultValues() Values {
	return Values{
		CircularPeriod: DefaultCircularPeriod,
		CircularNumber: DefaultCircularNumber,
	}
}

// Store is a YAML-file backed preference store. Reads are served from an
// in-memory copy; every write is flushed to disk before returning.
type Store struct {
	path string

	mu     sync.RWMutex
	values Values
}

// Open loads the preference file at path. A missing file yields defaults.
// An empty path gives a store that is never written to disk.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: defaultValues()}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse preferences %s: %w", path, err)
	}
	if s.values.CircularPeriod <= 0 {
		s.values.CircularPeriod = DefaultCircularPeriod
	}
	if s.values.CircularNumber <= 0 {
		s.values.CircularNumber = DefaultCircularNumber
	}
	return s, nil
}

// NewMemory returns a store that only lives in memory
func NewMemory() *Store {
	s, _ := Open("")
	return s
}

// Snapshot returns a copy of every value
func (s *Store) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

func (s *Store) HighQuality() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.HighQuality
}

func (s *Store) CircularRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.CircularRecording
}

// CircularPeriod is the rotation length in seconds
func (s *Store) CircularPeriod() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.CircularPeriod
}

// CircularNumber is how many finished recordings a rotation keeps
func (s *Store) CircularNumber() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.CircularNumber
}

func (s *Store) TagWithLocation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.TagWithLocation
}

func (s *Store) CurrentlyRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.CurrentlyRecording
}

func (s *Store) LastItem() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.LastItem
}

func (s *Store) SetHighQuality(v bool) error {
	return s.update(func(vals *Values) { vals.HighQuality = v })
}

func (s *Store) SetCircularRecording(v bool) error {
	return s.update(func(vals *Values) { vals.CircularRecording = v })
}

func (s *Store) SetCircularPeriod(seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("circular period must be > 0, got %d", seconds)
	}
	return s.update(func(vals *Values) { vals.CircularPeriod = seconds })
}

func (s *Store) SetCircularNumber(n int) error {
	if n <= 0 {
		return fmt.Errorf("circular number must be > 0, got %d", n)
	}
	return s.update(func(vals *Values) { vals.CircularNumber = n })
}

func (s *Store) SetCurrentlyRecording(v bool) error {
	return s.update(func(vals *Values) { vals.CurrentlyRecording = v })
}

func (s *Store) SetLastItem(ref string) error {
	return s.update(func(vals *Values) { vals.LastItem = ref })
}

// Keys lists every preference name accepted by Get and Set
func Keys() []string {
	keys := []string{
		KeyHighQuality, KeyCircularRecording, KeyCircularPeriod, KeyCircularNumber,
		KeyTagWithLocation, KeyCurrentlyRecording, KeyLastItem, KeyOnboardSettings, KeyOnboardList,
	}
	sort.Strings(keys)
	return keys
}

// Get returns a preference formatted as a string
func (s *Store) Get(key string) (string, error) {
	v := s.Snapshot()
	switch key {
	case KeyHighQuality:
		return strconv.FormatBool(v.HighQuality), nil
	case KeyCircularRecording:
		return strconv.FormatBool(v.CircularRecording), nil
	case KeyCircularPeriod:
		return strconv.FormatInt(v.CircularPeriod, 10), nil
	case KeyCircularNumber:
		return strconv.Itoa(v.CircularNumber), nil
	case KeyTagWithLocation:
		return strconv.FormatBool(v.TagWithLocation), nil
	case KeyCurrentlyRecording:
		return strconv.FormatBool(v.CurrentlyRecording), nil
	case KeyLastItem:
		return v.LastItem, nil
	case KeyOnboardSettings:
		return strconv.Itoa(v.OnboardSettings), nil
	case KeyOnboardList:
		return strconv.Itoa(v.OnboardList), nil
	}
	return "", fmt.Errorf("unknown preference: %s", key)
}

// Set parses value according to the type of key and stores it
func (s *Store) Set(key, value string) error {
	switch key {
	case KeyHighQuality, KeyCircularRecording, KeyTagWithLocation, KeyCurrentlyRecording:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects a boolean, got %q", key, value)
		}
		return s.update(func(vals *Values) {
			switch key {
			case KeyHighQuality:
				vals.HighQuality = b
			case KeyCircularRecording:
				vals.CircularRecording = b
			case KeyTagWithLocation:
				vals.TagWithLocation = b
			case KeyCurrentlyRecording:
				vals.CurrentlyRecording = b
			}
		})
	case KeyCircularPeriod:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s expects seconds, got %q", key, value)
		}
		return s.SetCircularPeriod(n)
	case KeyCircularNumber, KeyOnboardSettings, KeyOnboardList:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", key, value)
		}
		switch key {
		case KeyCircularNumber:
			return s.SetCircularNumber(n)
		case KeyOnboardSettings:
			return s.update(func(vals *Values) { vals.OnboardSettings = n })
		default:
			return s.update(func(vals *Values) { vals.OnboardList = n })
		}
	case KeyLastItem:
		return s.SetLastItem(value)
	}
	return fmt.Errorf("unknown preference: %s", key)
}

func (s *Store) update(fn func(*Values)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.values
	fn(&next)
	if err := s.save(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// save writes values through a temp file so a crash never leaves a
// truncated preference file behind
func (s *Store) save(values Values) error {
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	data, err := yaml.Marshal(&values)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace preferences: %w", err)
	}

	slog.Debug("Preferences saved", "path", s.path)
	return nil
}
