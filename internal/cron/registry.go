package cron

import (
	"context"
	"fmt"
)

// Job is one scheduled unit of work run by the rankings worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry registers the provided jobs in order. Nil jobs are ignored; a
// duplicate name panics since it can only come from wiring code.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			panic(err)
		}
	}
	return registry
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if _, exists := r.names[job.Name()]; exists {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
