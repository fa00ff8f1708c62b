// Package workerpool fans parse jobs for route prefix-group blocks out to
// a fixed set of CPU workers. One global pool exists for the lifetime of
// the process; each request brings its own bounded result channel, so a
// slow or gone consumer only ever stalls its own dialog with the daemon.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lightwatcher/lightwatcher/internal/framer"
	"github.com/lightwatcher/lightwatcher/internal/model"
	"github.com/lightwatcher/lightwatcher/internal/parse"
)

// QueueDepth bounds the inbound job queue and is the recommended capacity
// for per-request result channels. It is load-bearing for memory usage on
// large route dumps; widening it trades memory for little throughput.
const QueueDepth = 64

// Result is what a worker publishes for one parsed block: either the
// routes of one prefix group or the parse error for that block.
//
// Results arrive on the request's channel in completion order, not block
// order. Callers must aggregate commutatively.
type Result struct {
	Routes model.PrefixGroup
	Err    error
}

// Job is one block to parse plus the channel owned by the requesting
// caller. Done, when non-nil, is called exactly once after the result has
// been delivered or dropped; cancelling Ctx releases the worker from a
// consumer that stopped reading.
type Job struct {
	Ctx     context.Context
	Block   framer.Block
	Results chan<- Result
	Done    func()
}

// Pool is the process-wide routes parser pool.
type Pool struct {
	log  *zap.Logger
	size int

	jobs    chan Job
	workers []chan Job
	quit    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a pool with the given number of workers.
func New(log *zap.Logger, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		log:  log,
		size: size,
		jobs: make(chan Job, QueueDepth),
		quit: make(chan struct{}),
	}
}

// Start spawns the dispatcher and the workers.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.workers = make([]chan Job, p.size)
		for i := range p.workers {
			p.workers[i] = make(chan Job, 1)
			p.wg.Add(1)
			go p.worker(i, p.workers[i])
		}
		p.wg.Add(1)
		go p.dispatch()
		p.log.Info("routes worker pool started", zap.Int("workers", p.size))
	})
}

// Stop shuts the pool down. Queued jobs that have not been handed to a
// worker yet are dropped with their Done callback invoked.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.log.Info("routes worker pool stopped")
	})
}

// Submit enqueues one block. It blocks while the inbound queue is full
// (backpressure towards the daemon reader) and gives up when the job's
// context is cancelled or the pool shuts down.
func (p *Pool) Submit(job Job) {
	select {
	case p.jobs <- job:
	case <-job.Ctx.Done():
		job.finish()
	case <-p.quit:
		job.finish()
	}
}

// dispatch hands inbound jobs to workers round-robin.
func (p *Pool) dispatch() {
	defer p.wg.Done()

	next := 0
	for {
		select {
		case job := <-p.jobs:
			select {
			case p.workers[next] <- job:
				next = (next + 1) % len(p.workers)
			case <-job.Ctx.Done():
				job.finish()
			case <-p.quit:
				job.finish()
				p.closeWorkers()
				return
			}
		case <-p.quit:
			p.closeWorkers()
			return
		}
	}
}

func (p *Pool) closeWorkers() {
	for _, w := range p.workers {
		close(w)
	}
	for {
		select {
		case job := <-p.jobs:
			job.finish()
		default:
			return
		}
	}
}

// worker parses blocks to prefix groups and publishes each result on the
// job's own channel. A consumer that cancelled its context simply loses
// the result.
func (p *Pool) worker(id int, in <-chan Job) {
	defer p.wg.Done()

	for job := range in {
		routes, err := parse.PrefixGroup(job.Block)
		res := Result{Routes: routes, Err: err}

		select {
		case job.Results <- res:
		case <-job.Ctx.Done():
		}
		job.finish()
	}
	p.log.Debug("routes worker stopped", zap.Int("worker", id))
}

func (j Job) finish() {
	if j.Done != nil {
		j.Done()
	}
}
