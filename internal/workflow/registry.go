package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var (
	// ErrUnknownWorkflow is returned when no live workflow has the id.
	ErrUnknownWorkflow = errors.New("workflow: not found")
	// ErrTokenMismatch is returned when a workflow is used with another session token.
	ErrTokenMismatch = errors.New("workflow: belongs to a different session")
)

// ActiveGauge reports how many workflows are live.
type ActiveGauge interface {
	SetActiveWorkflows(n int)
}

// Registry keeps live workflows in memory and evicts idle ones.
type Registry struct {
	deps   Deps
	ttl    time.Duration
	gauge  ActiveGauge
	logger *logging.Logger

	mu    sync.Mutex
	items map[string]*Workflow
}

// NewRegistry creates a registry that builds workflows from deps. A
// non-positive ttl disables eviction.
func NewRegistry(deps Deps, ttl time.Duration, gauge ActiveGauge, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Registry{
		deps:   deps,
		ttl:    ttl,
		gauge:  gauge,
		logger: logger,
		items:  make(map[string]*Workflow),
	}
}

// Create starts a new workflow bound to token.
func (r *Registry) Create(token, providerID string) (*Workflow, error) {
	wf, err := New(Params{ID: uuid.NewString(), Token: token, ProviderID: providerID}, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.items[wf.ID()] = wf
	n := len(r.items)
	r.mu.Unlock()
	r.setGauge(n)
	return wf, nil
}

// Get returns the workflow with id when token owns it.
func (r *Registry) Get(id, token string) (*Workflow, error) {
	r.mu.Lock()
	wf, ok := r.items[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownWorkflow
	}
	if wf.Token() != token {
		return nil, ErrTokenMismatch
	}
	return wf, nil
}

// Remove closes and forgets a workflow.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	wf, ok := r.items[id]
	delete(r.items, id)
	n := len(r.items)
	r.mu.Unlock()
	if ok {
		wf.Close()
	}
	r.setGauge(n)
}

// Len returns the number of live workflows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Sweep evicts workflows untouched since now-ttl and returns how many went.
// Evicted workflows are closed, which abandons any pending payment.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-r.ttl)
	var stale []*Workflow
	r.mu.Lock()
	for id, wf := range r.items {
		if wf.UpdatedAt().Before(cutoff) {
			stale = append(stale, wf)
			delete(r.items, id)
		}
	}
	n := len(r.items)
	r.mu.Unlock()

	for _, wf := range stale {
		wf.Close()
		r.logger.Info("workflow evicted", "workflow_id", wf.ID(), "state", wf.State())
	}
	r.setGauge(n)
	return len(stale)
}

// Run sweeps every interval until ctx is cancelled, then closes all workflows.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep(nowFunc())
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := make([]*Workflow, 0, len(r.items))
	for id, wf := range r.items {
		all = append(all, wf)
		delete(r.items, id)
	}
	r.mu.Unlock()
	for _, wf := range all {
		wf.Close()
	}
	r.setGauge(0)
}

func (r *Registry) setGauge(n int) {
	if r.gauge != nil {
		r.gauge.SetActiveWorkflows(n)
	}
}
