// Package parallel runs independent alignment jobs on a fixed set of
// workers.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Job is one unit of work. worker is the index of the goroutine running
// it, in [0, Workers()), so jobs can use per-worker resources without
// locking.
type Job func(ctx context.Context, worker int) error

// task pairs a job with its result slot.
type task struct {
	ctx  context.Context
	job  Job
	err  *error
	done *sync.WaitGroup
}

// WorkerPool is a pool of goroutines, each with its own queue. Workers pull
// from their own queue first and steal from other queues when idle, which
// balances alignment jobs of very different durations.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan task // one per worker, filled round-robin by RunAll
	done    chan struct{}
	wg      sync.WaitGroup

	running   atomic.Bool
	completed atomic.Int64
}

// NewWorkerPool starts workers goroutines (GOMAXPROCS when workers <= 0).
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := max(workers*4, 8)
	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan task, workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan task, queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

// worker runs its own queue, stealing when it is empty, until Close.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own, id)
			return
		case t := <-own:
			p.run(t, id)
		default:
			if t, ok := p.steal(id); ok {
				p.run(t, id)
				continue
			}
			select {
			case <-p.done:
				p.drain(own, id)
				return
			case t := <-own:
				p.run(t, id)
			}
		}
	}
}

// run executes a task, converting a panic into an error so one bad job
// cannot take down the batch.
func (p *WorkerPool) run(t task, id int) {
	defer t.done.Done()
	defer p.completed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			*t.err = fmt.Errorf("parallel: job panicked: %v", r)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		*t.err = err
		return
	}
	*t.err = t.job(t.ctx, id)
}

// drain runs what is left in queue after Close.
func (p *WorkerPool) drain(queue chan task, id int) {
	for {
		select {
		case t := <-queue:
			p.run(t, id)
		default:
			return
		}
	}
}

// steal takes one queued task from any other worker.
func (p *WorkerPool) steal(myID int) (task, bool) {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case t := <-p.queues[i]:
			return t, true
		default:
		}
	}
	return task{}, false
}

// RunAll distributes jobs round-robin across workers and waits for all of
// them. The returned slice holds one error per job, in job order.
// Jobs not yet started when ctx is cancelled fail with ctx.Err().
// If the pool is closed, every job fails with ErrPoolClosed.
func (p *WorkerPool) RunAll(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	if len(jobs) == 0 {
		return errs
	}
	if !p.running.Load() {
		for i := range errs {
			errs[i] = ErrPoolClosed
		}
		return errs
	}

	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, job := range jobs {
		t := task{ctx: ctx, job: job, err: &errs[i], done: &wg}
		select {
		case p.queues[i%p.workers] <- t:
		case <-p.done:
			errs[i] = ErrPoolClosed
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// Close stops the workers after the queued jobs have run. Later calls are
// no-ops.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the worker count.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether RunAll still accepts jobs.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Completed returns how many jobs have finished, failed ones included.
func (p *WorkerPool) Completed() int64 { return p.completed.Load() }
