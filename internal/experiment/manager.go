package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fxreversal/internal/apperr"
	"fxreversal/internal/obs"
)

// Manager owns every registered experiment and enforces the
// at-most-one-active invariant, mirroring the registry's single
// active-pointer discipline.
type Manager struct {
	mu            sync.RWMutex
	experiments   map[string]*Experiment
	active        string
	root          string // experiments_root for snapshot persistence
	snapshotEveryN int
}

func NewManager(root string, snapshotEveryN int) *Manager {
	if snapshotEveryN < 1 {
		snapshotEveryN = 100
	}
	return &Manager{
		experiments:    make(map[string]*Experiment),
		root:           root,
		snapshotEveryN: snapshotEveryN,
	}
}

// Create registers a new experiment definition. It does not activate it.
func (m *Manager) Create(e *Experiment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[e.ExperimentID] = e
}

// Activate makes experimentID the sole active experiment, stopping
// whichever experiment was previously active.
func (m *Manager) Activate(experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.experiments[experimentID]
	if !ok {
		return apperr.NewValidationError(fmt.Sprintf("unknown experiment %q", experimentID))
	}

	if m.active != "" && m.active != experimentID {
		if prev, ok := m.experiments[m.active]; ok {
			prev.Active = false
		}
	}

	e.Active = true
	m.active = experimentID
	return nil
}

// Stop deactivates the named experiment if it is currently active.
func (m *Manager) Stop(experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.experiments[experimentID]
	if !ok {
		return apperr.NewValidationError(fmt.Sprintf("unknown experiment %q", experimentID))
	}
	e.Active = false
	stoppedAt := time.Now()
	e.StoppedAt = &stoppedAt
	if m.active == experimentID {
		m.active = ""
	}
	return m.snapshotLocked(e)
}

// Active returns the currently active experiment, or nil if none is active.
func (m *Manager) Active() *Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil
	}
	return m.experiments[m.active]
}

// Get returns a registered experiment by id.
func (m *Manager) Get(experimentID string) (*Experiment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.experiments[experimentID]
	return e, ok
}

// List returns every registered experiment.
func (m *Manager) List() []*Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Experiment, 0, len(m.experiments))
	for _, e := range m.experiments {
		out = append(out, e)
	}
	return out
}

// Observe records a prediction against the active experiment's
// assigned variant (if any experiment is active) and snapshots to
// disk once every snapshotEveryN predictions, per the configured
// ExperimentSnapshotN policy.
func (m *Manager) Observe(userID string, variant string, recordFn func(*Experiment) int) {
	active := m.Active()
	if active == nil {
		return
	}
	seen := recordFn(active)
	obs.ExperimentAssignmentsTotal.WithLabelValues(active.ExperimentID, variant).Inc()
	if seen >= m.snapshotEveryN {
		m.mu.Lock()
		_ = m.snapshotLocked(active)
		m.mu.Unlock()
		active.ResetSnapshotCounter()
	}
}

type snapshotFile struct {
	ExperimentID string                  `json:"experiment_id"`
	Active       bool                    `json:"active"`
	Variants     map[string]VariantStats `json:"variants"`
}

func (m *Manager) snapshotLocked(e *Experiment) error {
	if m.root == "" {
		return nil
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return apperr.NewArtefactIOError(m.root, err)
	}
	payload := snapshotFile{ExperimentID: e.ExperimentID, Active: e.Active, Variants: e.Snapshot()}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.root, e.ExperimentID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.NewArtefactIOError(path, err)
	}
	return nil
}

// Snapshot forces an immediate persist of one experiment, independent
// of the every-N policy. Used by the stop lifecycle and by handlers
// that want an up-to-date metrics read.
func (m *Manager) Snapshot(experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.experiments[experimentID]
	if !ok {
		return apperr.NewValidationError(fmt.Sprintf("unknown experiment %q", experimentID))
	}
	return m.snapshotLocked(e)
}
