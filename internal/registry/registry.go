// Package registry persists the side-table of user-registered model
// checkpoints and scans the overlay directory. The side-table is a
// single JSON file so it can be edited by hand and shipped between
// machines.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// Registry reads and writes the model side-table at a fixed path.
// Safe for concurrent use.
type Registry struct {
	path string

	mu sync.Mutex
}

// New returns a registry backed by the JSON file at path. The file is
// created on first write.
func New(path string) *Registry {
	if p, err := fsutil.ExpandHome(path); err == nil {
		path = p
	}
	return &Registry{path: path}
}

// Path returns the side-table location.
func (r *Registry) Path() string { return r.path }

// List returns every registered model sorted by name. A missing file is
// an empty registry, not an error.
func (r *Registry) List() ([]types.ModelSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Get returns the named model.
func (r *Registry) Get(name string) (types.ModelSpec, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	models, err := r.loadLocked()
	if err != nil {
		return types.ModelSpec{}, false, err
	}
	for _, m := range models {
		if m.Name == name {
			return m, true, nil
		}
	}
	return types.ModelSpec{}, false, nil
}

// Add registers or replaces a model entry and persists the table.
func (r *Registry) Add(spec types.ModelSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if spec.Path == "" {
		return fmt.Errorf("model path is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	models, err := r.loadLocked()
	if err != nil {
		return err
	}
	out := models[:0]
	for _, m := range models {
		if m.Name != spec.Name {
			out = append(out, m)
		}
	}
	out = append(out, spec)
	return r.saveLocked(out)
}

// Remove deletes the named entry. It reports whether it was present.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	models, err := r.loadLocked()
	if err != nil {
		return false, err
	}
	out := models[:0]
	found := false
	for _, m := range models {
		if m.Name == name {
			found = true
			continue
		}
		out = append(out, m)
	}
	if !found {
		return false, nil
	}
	return true, r.saveLocked(out)
}

func (r *Registry) loadLocked() ([]types.ModelSpec, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	var models []types.ModelSpec
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// saveLocked writes through a temp file and rename so a crash mid-write
// never leaves a truncated table.
func (r *Registry) saveLocked(models []types.ModelSpec) error {
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(filepath.Dir(r.path)); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// ListAdapters scans dir for overlay files. Non-overlay files are
// skipped; a missing directory is an empty list.
func ListAdapters(dir string) ([]types.LoraFile, error) {
	if d, err := fsutil.ExpandHome(dir); err == nil {
		dir = d
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []types.LoraFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".safetensors") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, types.LoraFile{
			Name:   e.Name(),
			Path:   filepath.Join(dir, e.Name()),
			SizeMB: info.Size() / (1 << 20),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
