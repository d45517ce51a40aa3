package policy

import (
	"sync/atomic"

	"github.com/cementai/optimizer-agent/internal/models"
)

// ReloadableEngine wraps Engine so the active policy can be swapped at
// runtime when configuration changes. Decide always sees a complete,
// consistent policy; cycles in flight keep the engine they started with.
type ReloadableEngine struct {
	current atomic.Pointer[Engine]
}

// NewReloadableEngine creates a ReloadableEngine with an initial policy.
func NewReloadableEngine(cfg Config) *ReloadableEngine {
	r := &ReloadableEngine{}
	r.current.Store(NewEngine(cfg))
	return r
}

// Update replaces the active policy.
func (r *ReloadableEngine) Update(cfg Config) {
	r.current.Store(NewEngine(cfg))
}

// Decide delegates to the active policy.
func (r *ReloadableEngine) Decide(rec *models.Recommendation) (models.Decision, error) {
	return r.current.Load().Decide(rec)
}
