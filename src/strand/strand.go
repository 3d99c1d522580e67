// Package strand runs posted functions one at a time, in the order they were
// posted, on a single goroutine.
//
// State that is only ever touched from functions running on a strand needs no
// further locking.
package strand

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/pkg/errors"
)

// ErrStopped is returned by Post once Stop has been called.
var ErrStopped = errors.New("strand stopped")

// Strand is a single-consumer work queue. The mailbox is unbounded so that
// Post never blocks the caller.
type Strand struct {
	mu      sync.Mutex
	pending *linkedlistqueue.Queue
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New starts a Strand.
func New() *Strand {
	s := &Strand{
		pending: linkedlistqueue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Post enqueues fn. It returns ErrStopped if the strand no longer accepts
// work, in which case fn will never run.
func (s *Strand) Post(fn func()) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.pending.Enqueue(fn)
	// wake is closed by Stop under mu, so signal before unlocking.
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of functions waiting to run.
func (s *Strand) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Size()
}

// Stop rejects further posts, waits for everything already posted to run and
// then returns. Stop must not be called from a function running on the
// strand. Calling Stop more than once is fine.
func (s *Strand) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.wake)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Strand) next() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pending.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(func()), true
}

func (s *Strand) run() {
	defer close(s.done)
	for {
		for fn, ok := s.next(); ok; fn, ok = s.next() {
			fn()
		}
		if _, open := <-s.wake; !open {
			// Posts that won the race against Stop are still pending.
			for fn, ok := s.next(); ok; fn, ok = s.next() {
				fn()
			}
			return
		}
	}
}
