// Package store persists per-channel effect settings.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/pixdriver/internal/effects"
)

// Store loads and saves the persisted subset of a channel's effect config.
type Store interface {
	// Load reports ok=false when nothing was stored for the channel.
	Load(id int) (s effects.Settings, ok bool, err error)
	Save(id int, s effects.Settings) error
}

// Key is the record name for a channel.
func Key(id int) string { return fmt.Sprintf("ch_%d", id) }

// File keeps every channel in one YAML document keyed by Key.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Path() string { return f.path }

func (f *File) read() (map[string]effects.Settings, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]effects.Settings{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]effects.Settings{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return m, nil
}

func (f *File) Load(id int) (effects.Settings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return effects.Settings{}, false, err
	}
	s, ok := m[Key(id)]
	return s, ok && !s.Empty(), nil
}

func (f *File) Save(id int, s effects.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return err
	}
	cur := m[Key(id)]
	merge(&cur, s)
	m[Key(id)] = cur

	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Memory is a Store for tests and for running without a store path.
type Memory struct {
	mu sync.Mutex
	m  map[int]effects.Settings
}

func NewMemory() *Memory { return &Memory{m: map[int]effects.Settings{}} }

func (s *Memory) Load(id int) (effects.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	return v, ok, nil
}

func (s *Memory) Save(id int, v effects.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.m[id]
	merge(&cur, v)
	s.m[id] = cur
	return nil
}

// merge copies the set fields of src into dst so a partial save keeps
// earlier values.
func merge(dst *effects.Settings, src effects.Settings) {
	if src.Effect != nil {
		v := *src.Effect
		dst.Effect = &v
	}
	if src.Color != nil {
		v := *src.Color
		dst.Color = &v
	}
	if src.Brightness != nil {
		v := *src.Brightness
		dst.Brightness = &v
	}
	if src.Speed != nil {
		v := *src.Speed
		dst.Speed = &v
	}
	if src.Enabled != nil {
		v := *src.Enabled
		dst.Enabled = &v
	}
}
