// Package connpool caps the number of concurrently open control-socket
// connections to the daemon. Connections are never reused: the daemon
// answers one command per connection and closes, so the pool hands out
// slots, not sockets. A single dispatcher goroutine owns all pool state
// and is driven purely through channels.
package connpool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by an Acquire whose request the dispatcher is
// holding (waiting for a free slot) when Stop is called.
var ErrPoolClosed = errors.New("connection pool closed")

// Pool issues up to limit slots at a time. A slot is held from Acquire
// until Release, whether or not the caller's dial succeeded — the counter
// reflects intent, not success.
type Pool struct {
	log   *zap.Logger
	limit int

	requests chan chan *Slot
	release  chan struct{}
	quit     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// Slot is the scoped resource the pool issues. The caller opens the
// actual socket itself; the slot only tracks occupancy.
type Slot struct {
	pool *Pool
	once sync.Once
}

// Release frees the slot. Safe to call more than once.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.pool.release <- struct{}{}
	})
}

// New creates a pool issuing at most limit concurrent slots.
func New(log *zap.Logger, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		log:      log,
		limit:    limit,
		requests: make(chan chan *Slot),
		release:  make(chan struct{}, limit),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start spawns the dispatcher. The pool lives as long as the process.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		go p.dispatch()
		p.log.Info("bird connection pool started", zap.Int("limit", p.limit))
	})
}

// Stop terminates the dispatcher. The acquirer whose request the
// dispatcher is holding gets ErrPoolClosed; any other pending Acquire,
// and any Acquire after Stop, blocks until its context is cancelled.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		<-p.done
		p.log.Info("bird connection pool stopped")
	})
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	reply := make(chan *Slot, 1)

	select {
	case p.requests <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case slot := <-reply:
		if slot == nil {
			return nil, ErrPoolClosed
		}
		return slot, nil
	case <-ctx.Done():
		// The dispatcher may still fulfil the request; the buffered
		// reply channel keeps it from blocking, and the slot is
		// returned unused.
		go func() {
			if slot := <-reply; slot != nil {
				slot.Release()
			}
		}()
		return nil, ctx.Err()
	}
}

// dispatch owns the live-slot counter. When the pool is exhausted it
// blocks on the release channel until a slot frees up before issuing.
func (p *Pool) dispatch() {
	defer close(p.done)

	size := 0
	for {
		select {
		case reply := <-p.requests:
			for size >= p.limit {
				select {
				case <-p.release:
					size--
				case <-p.quit:
					reply <- nil
					return
				}
			}
			// Drain any releases that arrived meanwhile.
			for {
				select {
				case <-p.release:
					size--
					continue
				default:
				}
				break
			}
			size++
			reply <- &Slot{pool: p}

		case <-p.release:
			size--

		case <-p.quit:
			return
		}
	}
}
