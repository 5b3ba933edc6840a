// Package buildmanifest tracks the set of files the recompiler generates in
// one run, so a subsequent run can detect and remove stale output left over
// from a function that no longer exists (e.g. after a hint change shrinks
// the function graph).
package buildmanifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const fileName = "ppcrecomp_manifest.json"

// Manifest is the persisted record of one generation run's output files.
type Manifest struct {
	Generated []string `json:"generated"`

	seen map[string]bool
}

// New returns an empty manifest ready to accumulate generated paths.
func New() *Manifest {
	return &Manifest{seen: map[string]bool{}}
}

// AddGenerated records path as produced by the current run. Duplicate
// entries are collapsed.
func (m *Manifest) AddGenerated(path string) {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[path] {
		return
	}
	m.seen[path] = true
	m.Generated = append(m.Generated, path)
}

// Load reads a previously written manifest from dir, or returns an empty one
// if none exists yet.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("buildmanifest: reading %q: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("buildmanifest: parsing %q: %w", path, err)
	}
	m.seen = map[string]bool{}
	for _, g := range m.Generated {
		m.seen[g] = true
	}
	return &m, nil
}

// Save writes the manifest to dir, sorted for deterministic diffs.
func (m *Manifest) Save(dir string) error {
	sort.Strings(m.Generated)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("buildmanifest: encoding: %w", err)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("buildmanifest: writing %q: %w", path, err)
	}
	return nil
}

// Stale returns entries present in prior but absent from current — files a
// past run generated that the current run did not, and that the caller
// should therefore remove.
func Stale(prior, current *Manifest) []string {
	var out []string
	for _, p := range prior.Generated {
		if !current.seen[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// RemoveStale deletes every file Stale reports, ignoring already-missing
// files so repeated runs stay idempotent.
func RemoveStale(prior, current *Manifest) error {
	for _, p := range Stale(prior, current) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("buildmanifest: removing stale file %q: %w", p, err)
		}
	}
	return nil
}
