package pipeline

import (
	"context"
	"sync"
)

// Runner owns the background execution of pipeline runs spawned from the REST
// surface. Every run derives from the runner's root context so shutdown
// cancels in-flight generations, and Wait blocks until they have reported
// their terminal job state.
type Runner struct {
	pipeline *Pipeline
	ctx      context.Context
	wg       sync.WaitGroup
}

func NewRunner(ctx context.Context, p *Pipeline) *Runner {
	return &Runner{pipeline: p, ctx: ctx}
}

// Spawn starts the run in the background.
func (r *Runner) Spawn(req Request) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pipeline.Run(r.ctx, req)
	}()
}

// Wait blocks until all spawned runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
