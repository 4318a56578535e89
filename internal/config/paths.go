package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".koko"

// Paths locates Koko's files. Everything lives under one base directory,
// $KOKO_HOME or ~/.koko.
type Paths struct {
	Base   string
	Config string
	Data   string
}

// PriceDB is the default SQLite file for price history.
func (p Paths) PriceDB() string {
	return filepath.Join(p.Data, "prices.db")
}

// ResolvePaths computes the standard paths. A non-empty configFile replaces
// the default config location but leaves the data directory alone.
func ResolvePaths(configFile string) (Paths, error) {
	base := os.Getenv("KOKO_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("locating home directory: %w", err)
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	p := Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
	}
	if configFile != "" {
		p.Config = configFile
	}
	return p, nil
}

// ParseConfigPath splits a dot-separated config path into segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
	}
	return parts, nil
}

// parent walks root along path[:len(path)-1] and returns the map that
// holds the final key. With create set, missing or non-map levels are
// replaced by empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur, true
}

// GetValueAtPath returns the value at path in a raw config tree.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path, creating intermediate sections.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
