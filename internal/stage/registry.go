// Package stage owns per-stage release history and the legal transition
// graph. It is the only shared mutable state in the orchestrator; deploy and
// revert for the same stage are mutually exclusive.
package stage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/helixops/promoter/internal/models"
)

var (
	// ErrNoActiveRelease is returned when a rollback targets a stage with
	// nothing deployed.
	ErrNoActiveRelease = errors.New("no active release")

	// ErrNoPriorRelease is returned when the active release is the stage's
	// first deployment and there is nothing to restore. Operator
	// intervention required; never retried automatically.
	ErrNoPriorRelease = errors.New("no prior release to roll back to")
)

// transitions is the fixed stage graph. prod has no out-edges.
var transitions = map[models.Stage][]models.Stage{
	models.StageDev:     {models.StageStaging},
	models.StageStaging: {models.StageProd},
}

// ValidTransition reports whether from→to is a legal promotion edge.
// Same-stage pairs and anything out of prod are illegal.
func ValidTransition(from, to models.Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type stageState struct {
	mu      sync.Mutex
	history []models.Release
}

// Registry keeps the append-only release history per stage. At most one
// release per stage is active.
type Registry struct {
	mu     sync.Mutex
	stages map[models.Stage]*stageState
}

func NewRegistry() *Registry {
	return &Registry{stages: map[models.Stage]*stageState{}}
}

func (r *Registry) state(s models.Stage) *stageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stages[s]
	if !ok {
		st = &stageState{}
		r.stages[s] = st
	}
	return st
}

// Deploy demotes the stage's current active release to inactive, appends rel
// to the history, and marks it active. History never shrinks.
func (r *Registry) Deploy(rel models.Release) models.Release {
	st := r.state(rel.Stage)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.history {
		if st.history[i].Status == models.ReleaseStatusActive {
			st.history[i].Status = models.ReleaseStatusInactive
		}
	}
	rel.Status = models.ReleaseStatusActive
	if rel.DeployedAt.IsZero() {
		rel.DeployedAt = time.Now().UTC()
	}
	st.history = append(st.history, rel)
	return rel
}

// RevertToPrevious flips the active release of s to rolled-back, reactivates
// its immediate predecessor in history, and returns the predecessor.
func (r *Registry) RevertToPrevious(s models.Stage) (models.Release, error) {
	st := r.state(s)
	st.mu.Lock()
	defer st.mu.Unlock()

	active := -1
	for i := range st.history {
		if st.history[i].Status == models.ReleaseStatusActive {
			active = i
			break
		}
	}
	if active < 0 {
		return models.Release{}, fmt.Errorf("stage %s: %w", s, ErrNoActiveRelease)
	}
	if active == 0 {
		return models.Release{}, fmt.Errorf("stage %s: %w", s, ErrNoPriorRelease)
	}
	st.history[active].Status = models.ReleaseStatusRolledBack
	st.history[active-1].Status = models.ReleaseStatusActive
	return st.history[active-1], nil
}

// Active returns the currently active release for s, if any.
func (r *Registry) Active(s models.Stage) (models.Release, bool) {
	st := r.state(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.history {
		if st.history[i].Status == models.ReleaseStatusActive {
			return st.history[i], true
		}
	}
	return models.Release{}, false
}

// History returns a copy of the stage's release history, oldest first.
func (r *Registry) History(s models.Stage) []models.Release {
	st := r.state(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]models.Release(nil), st.history...)
}

// Stats summarizes the deployment state of s.
func (r *Registry) Stats(s models.Stage) models.StageStats {
	st := r.state(s)
	st.mu.Lock()
	defer st.mu.Unlock()

	stats := models.StageStats{Stage: s, TotalReleases: len(st.history)}
	for i := range st.history {
		if st.history[i].Status == models.ReleaseStatusActive {
			stats.ActiveVersion = st.history[i].Version
		}
	}
	if n := len(st.history); n > 0 {
		t := st.history[n-1].DeployedAt
		stats.LastDeployedAt = &t
	}
	return stats
}
