// Package registry implements the Model Registry (C9): a fixed set of
// known model versions, each lazily loaded from on-disk artefacts,
// with an atomically-switchable active pointer. Grounded on the
// teacher's internal/database.Repository (typed CRUD over a pool) for
// its persistence shape, and on internal/api.Server's constructor for
// the "continue serving on partial dependency failure" startup policy.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"fxreversal/internal/apperr"
	"fxreversal/internal/model/stage1"
	"fxreversal/internal/model/stage2"
	"fxreversal/internal/preprocess"
)

// Version is a named model version: its artefact paths, its loaded
// state, and the threshold configuration consumed by the predictor.
type Version struct {
	VersionID       string  `json:"version_id"`
	DisplayName     string  `json:"display_name"`
	Description     string  `json:"description"`
	Stage1Path      string  `json:"stage1_path"`
	Stage2Path      string  `json:"stage2_path,omitempty"`
	ScalerPath      string  `json:"scaler_path"`
	FeaturesPath    string  `json:"features_path"`
	MetadataPath    string  `json:"metadata_path"`
	Stage1Threshold float64 `json:"stage1_threshold"`

	mu       sync.RWMutex
	stage1   *stage1.Model
	stage2   *stage2.Model // nil when the optional artefact is absent
	scaler   *preprocess.Scaler
	features []string
	loaded   bool
}

// NewLoaded constructs a Version that is already loaded in memory,
// bypassing on-disk artefacts. Used by cmd/train to register a
// freshly-trained version without a save/load round trip, and by
// tests that need a ready-to-serve version.
func NewLoaded(versionID, displayName string, s1 *stage1.Model, s2 *stage2.Model, scaler *preprocess.Scaler, features []string, threshold float64) *Version {
	return &Version{
		VersionID:       versionID,
		DisplayName:     displayName,
		Stage1Threshold: threshold,
		stage1:          s1,
		stage2:          s2,
		scaler:          scaler,
		features:        features,
		loaded:          true,
	}
}

// IsLoaded reports whether weights, scaler, and feature list are all
// in memory.
func (v *Version) IsLoaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Stage1 returns the loaded Stage-1 model, or nil if not yet loaded.
func (v *Version) Stage1() *stage1.Model {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stage1
}

// Stage2 returns the loaded Stage-2 model, or nil if unavailable
// (non-fatal per §4.9: the predictor falls back to hold with warning).
func (v *Version) Stage2() *stage2.Model {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stage2
}

// Scaler returns the loaded scaler, or nil if not yet loaded.
func (v *Version) Scaler() *preprocess.Scaler {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scaler
}

// Features returns the loaded, ordered feature name list.
func (v *Version) Features() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.features...)
}

// featuresFile is the on-disk shape accepted for `<version>_features.json`
// (either a bare array or {features:[...], num_features:N}).
type featuresFile struct {
	Features    []string `json:"features"`
	NumFeatures int      `json:"num_features"`
}

// LoadStatus reports the per-file outcome of one version's load.
type LoadStatus struct {
	VersionID      string `json:"version_id"`
	Loaded         bool   `json:"loaded"`
	Stage1Error    string `json:"stage1_error,omitempty"`
	Stage2Error    string `json:"stage2_error,omitempty"`
	ScalerError    string `json:"scaler_error,omitempty"`
	FeaturesError  string `json:"features_error,omitempty"`
}

// load reads every artefact for this version under an exclusive lock.
// Missing scaler is non-fatal (pre-applied normalisation is assumed);
// missing features is fatal; missing stage2 is non-fatal. A
// `<version>_threshold.json` beside the Stage-1 artefact, when present
// and readable, replaces Stage1Threshold with its chosen threshold.
func (v *Version) load() LoadStatus {
	v.mu.Lock()
	defer v.mu.Unlock()

	status := LoadStatus{VersionID: v.VersionID}

	s1, err := stage1.Load(v.Stage1Path)
	if err != nil {
		status.Stage1Error = err.Error()
		return status
	}
	v.stage1 = s1

	if v.Stage2Path != "" {
		s2, err := stage2.Load(v.Stage2Path)
		if err != nil {
			status.Stage2Error = err.Error()
			// non-fatal: continue without stage2
		} else {
			v.stage2 = s2
		}
	}

	scaler, err := preprocess.LoadScaler(v.ScalerPath)
	if err != nil {
		status.ScalerError = err.Error()
		// non-fatal: model may still serve if features are pre-normalised
	} else {
		v.scaler = scaler
	}

	features, err := loadFeatures(v.FeaturesPath)
	if err != nil {
		status.FeaturesError = err.Error()
		return status // fatal
	}
	v.features = features

	if data, err := os.ReadFile(filepath.Join(filepath.Dir(v.Stage1Path), v.VersionID+"_threshold.json")); err == nil {
		var t struct {
			Chosen struct {
				Threshold float64 `json:"threshold"`
			} `json:"chosen"`
		}
		if json.Unmarshal(data, &t) == nil {
			v.Stage1Threshold = t.Chosen.Threshold
		}
	}

	v.loaded = true
	status.Loaded = true
	return status
}

func loadFeatures(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.NewArtefactIOError(path, err)
	}
	var bare []string
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}
	var wrapped featuresFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, apperr.NewArtefactIOError(path, err)
	}
	return wrapped.Features, nil
}

// VersionInfo is the introspection shape returned by get_versions_info.
type VersionInfo struct {
	VersionID       string  `json:"version_id"`
	DisplayName     string  `json:"display_name"`
	Description     string  `json:"description"`
	Loaded          bool    `json:"loaded"`
	HasStage2       bool    `json:"has_stage2"`
	Stage1Threshold float64 `json:"stage1_threshold"`
	IsActive        bool    `json:"is_active"`
}

// Registry holds every registered version and the process-wide active
// pointer (§3 "ownership": the registry exclusively owns loaded model
// artefacts).
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*Version
	order    []string // registration order, for deterministic startup selection
	active   string
}

func New() *Registry {
	return &Registry{versions: make(map[string]*Version)}
}

// Register adds a version definition. It does not load artefacts.
func (r *Registry) Register(v *Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[v.VersionID] = v
	r.order = append(r.order, v.VersionID)
}

// Load loads one version's artefacts under the per-version exclusive
// lock embedded in Version.
func (r *Registry) Load(versionID string) (LoadStatus, error) {
	r.mu.RLock()
	v, ok := r.versions[versionID]
	r.mu.RUnlock()
	if !ok {
		return LoadStatus{}, apperr.NewVersionNotAvailable(versionID)
	}
	return v.load(), nil
}

// Switch loads (if needed) then atomically replaces the active
// pointer. The prior active version remains loaded for any in-flight
// requests still holding a reference to it.
func (r *Registry) Switch(versionID string) error {
	r.mu.RLock()
	v, ok := r.versions[versionID]
	r.mu.RUnlock()
	if !ok {
		return apperr.NewVersionNotAvailable(versionID)
	}
	if !v.IsLoaded() {
		status := v.load()
		if !status.Loaded {
			return apperr.NewVersionNotAvailable(versionID)
		}
	}

	r.mu.Lock()
	r.active = versionID
	r.mu.Unlock()
	return nil
}

// GetActive returns the currently active version, or nil if none is
// active (e.g. startup failed to load any version).
func (r *Registry) GetActive() *Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil
	}
	return r.versions[r.active]
}

// Get returns a registered version by id, loaded or not.
func (r *Registry) Get(versionID string) (*Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[versionID]
	return v, ok
}

// GetVersionsInfo returns introspection info for every registered version.
func (r *Registry) GetVersionsInfo() []VersionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]VersionInfo, 0, len(r.versions))
	for _, id := range r.order {
		v := r.versions[id]
		out = append(out, VersionInfo{
			VersionID:       v.VersionID,
			DisplayName:     v.DisplayName,
			Description:     v.Description,
			Loaded:          v.IsLoaded(),
			HasStage2:       v.Stage2() != nil,
			Stage1Threshold: v.Stage1Threshold,
			IsActive:        id == r.active,
		})
	}
	return out
}

// AutoLoadStartup implements the startup policy of §4.9: auto-load
// preferring the highest-numbered version id (lexicographic descending
// over the registration-time ids, which are of the form "v3.2" etc.),
// falling back to the next on load failure.
func (r *Registry) AutoLoadStartup() (active string, statuses []LoadStatus) {
	r.mu.RLock()
	candidates := append([]string(nil), r.order...)
	r.mu.RUnlock()

	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	for _, id := range candidates {
		status, err := r.Load(id)
		if err != nil {
			statuses = append(statuses, LoadStatus{VersionID: id, Stage1Error: err.Error()})
			continue
		}
		statuses = append(statuses, status)
		if status.Loaded && active == "" {
			if switchErr := r.Switch(id); switchErr == nil {
				active = id
			}
		}
	}

	return active, statuses
}

// String implements fmt.Stringer for LoadStatus logging convenience.
func (s LoadStatus) String() string {
	if s.Loaded {
		return fmt.Sprintf("%s: loaded", s.VersionID)
	}
	return fmt.Sprintf("%s: failed (stage1=%q stage2=%q scaler=%q features=%q)",
		s.VersionID, s.Stage1Error, s.Stage2Error, s.ScalerError, s.FeaturesError)
}
