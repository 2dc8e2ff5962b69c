package unctarget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// JSONFileStore keeps the table in the uncertainty-map JSON file written
// next to the efficiency maps:
//
//	{"<dataset>": {"b": 0.01, "c": 0.02, "udsg": 0.05}, ...}
type JSONFileStore struct {
	Path string
}

// NewJSONFileStore returns a store backed by path.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: path}
}

// Load reads the file. A missing file yields an empty, non-preexisting table.
func (s *JSONFileStore) Load(defaults Targets) (*Table, error) {
	t := NewTable(defaults)
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read uncertainty map: %w", err)
	}
	entries, err := DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("uncertainty map %s: %w", s.Path, err)
	}
	for name, v := range entries {
		t.entries[name] = v
	}
	t.Preexisting = true
	return t, nil
}

// Save writes the table as indented JSON, creating parent directories.
func (s *JSONFileStore) Save(t *Table) error {
	data, err := EncodeJSON(t.Snapshot())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("failed to create uncertainty map dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write uncertainty map: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

// EncodeJSON renders dataset → flavour → target with four-space indentation.
func EncodeJSON(entries map[string]Targets) ([]byte, error) {
	raw := make(map[string]map[string]float64, len(entries))
	for name, targets := range entries {
		m := make(map[string]float64, len(targets))
		for f, v := range targets {
			m[string(f)] = v
		}
		raw[name] = m
	}
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode uncertainty map: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeJSON parses and validates an uncertainty map.
func DecodeJSON(data []byte) (map[string]Targets, error) {
	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	out := make(map[string]Targets, len(raw))
	for name, m := range raw {
		targets := make(Targets, len(m))
		for k, v := range m {
			f, err := jets.ParseFlavor(k)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", name, err)
			}
			targets[f] = v
		}
		if err := targets.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		out[name] = targets
	}
	return out, nil
}
