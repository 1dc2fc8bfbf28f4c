// Package jobs implements the in-memory job registry SPEC_FULL.md
// supplements spec.md with: long-running `index_directory`/`normalize`
// calls return a job id immediately, and `index_status`/`normalize_status`
// poll it by id. Grounded on original_source's `job_manager` usage in
// `api/tools/indexing.py` (create_job/get_job/list_jobs(job_type, limit))
// and `api/tools/maintenance.py`.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/S-Corkum/projectmemory/pkg/models"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one tracked long-running operation.
type Job struct {
	ID         string                 `json:"job_id"`
	Type       string                 `json:"job_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Status     Status                 `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (j *Job) snapshot() *Job {
	cp := *j
	if j.Parameters != nil {
		cp.Parameters = make(map[string]interface{}, len(j.Parameters))
		for k, v := range j.Parameters {
			cp.Parameters[k] = v
		}
	}
	if j.Result != nil {
		cp.Result = make(map[string]interface{}, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}

// Registry tracks every job created by this process. It is process-local
// and unbounded by design (spec section 1: one process per project,
// expected to run for a bounded session rather than as a long-lived
// daemon with unbounded job history).
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]*Job{}}
}

// Create registers a new job in StatusPending and returns it.
func (r *Registry) Create(jobType string, parameters map[string]interface{}) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:         models.NewID(),
		Type:       jobType,
		Parameters: parameters,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
	return j.snapshot()
}

// Get returns the current snapshot of a job, or nil if unknown.
func (r *Registry) Get(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	return j.snapshot()
}

// List returns up to limit jobs of jobType (all types if empty), newest
// first, matching original_source's list_jobs(job_type, limit) contract.
func (r *Registry) List(jobType string, limit int) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Job
	for _, j := range r.jobs {
		if jobType != "" && j.Type != jobType {
			continue
		}
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Registry) update(id string, mutate func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	mutate(j)
	j.UpdatedAt = time.Now().UTC()
}

func (r *Registry) start(id string) {
	r.update(id, func(j *Job) { j.Status = StatusRunning })
}

func (r *Registry) complete(id string, result map[string]interface{}) {
	r.update(id, func(j *Job) { j.Status = StatusCompleted; j.Result = result })
}

func (r *Registry) fail(id string, err error) {
	r.update(id, func(j *Job) { j.Status = StatusFailed; j.Error = err.Error() })
}

// Run creates a job, immediately returns it in StatusPending, and runs fn
// in the background updating the job's state on completion. The caller
// (the JSON-RPC tool layer) gets an id to hand back to the client right
// away and polls Get/List for progress, so a directory index or
// normalize run never blocks the stdio loop.
func (r *Registry) Run(ctx context.Context, jobType string, parameters map[string]interface{}, fn func(ctx context.Context) (map[string]interface{}, error)) *Job {
	j := r.Create(jobType, parameters)
	go func() {
		r.start(j.ID)
		result, err := fn(ctx)
		if err != nil {
			r.fail(j.ID, err)
			return
		}
		r.complete(j.ID, result)
	}()
	return j
}
