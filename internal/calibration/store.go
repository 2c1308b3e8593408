// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/relabs-tech/bokobox/internal/logging"
)

// ErrNotFound is returned by a Store holding no calibration.
var ErrNotFound = errors.New("calibration: not stored")

// Store persists the calibration vector.
type Store interface {
	Load() (Vector, error)
	Save(Vector) error
}

const (
	iniSection = "Calibration"
	iniKey     = "factors"
)

// IniStore keeps the vector as "factors" in the [Calibration] section of
// an INI file. Other sections and keys in the file are preserved.
type IniStore struct {
	Path string
}

// NewIniStore returns a store backed by the INI file at path.
func NewIniStore(path string) *IniStore { return &IniStore{Path: path} }

// Load reads the factors key.
func (s *IniStore) Load() (Vector, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	f, err := ini.Load(s.Path)
	if err != nil {
		return nil, fmt.Errorf("calibration: read %s: %w", s.Path, err)
	}
	sec, err := f.GetSection(iniSection)
	if err != nil || !sec.HasKey(iniKey) {
		return nil, ErrNotFound
	}
	return ParseVector(sec.Key(iniKey).String())
}

// Save overwrites the factors key. The file is replaced atomically.
func (s *IniStore) Save(v Vector) error {
	f, err := ini.LooseLoad(s.Path)
	if err != nil {
		return fmt.Errorf("calibration: read %s: %w", s.Path, err)
	}
	f.Section(iniSection).Key(iniKey).SetValue(v.String())

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.ini")
	if err != nil {
		return fmt.Errorf("calibration: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("calibration: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("calibration: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("calibration: replace %s: %w", s.Path, err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	v     Vector
	saves int
}

func (m *MemoryStore) Load() (Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.v == nil {
		return nil, ErrNotFound
	}
	return m.v.Clone(), nil
}

func (m *MemoryStore) Save(v Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = v.Clone()
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// LoadOrDefault reads the persisted vector, falling back to def when it is
// absent, unparsable, or has the wrong number of factors.
func LoadOrDefault(ctx context.Context, store Store, def Vector, channels int, log logging.Logger) Vector {
	if log == nil {
		log = logging.Noop()
	}
	if store == nil {
		return def.Clone()
	}
	v, err := store.Load()
	if err == nil {
		err = v.Validate(channels)
	}
	if err != nil {
		log.Warn(ctx, "calibration: using default factors",
			logging.String("default", def.String()), logging.Err(err))
		return def.Clone()
	}
	log.Info(ctx, "calibration: loaded factors", logging.String("factors", v.String()))
	return v
}
