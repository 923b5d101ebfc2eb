package syncengine

import (
	"context"
	"sync"

	"communitysync/pkg/errors"
)

// laneSet serializes mutations per key in strict arrival order. Each waiter
// blocks on its predecessor's done channel, so a cancelled waiter still
// hands the lane on in order.
type laneSet struct {
	mu        sync.Mutex
	lanes     map[string]*lane
	maxQueued int
}

type lane struct {
	tail    chan struct{}
	waiting int
}

func newLaneSet(maxQueued int) *laneSet {
	return &laneSet{
		lanes:     make(map[string]*lane),
		maxQueued: maxQueued,
	}
}

// acquire waits for every earlier holder of key. The returned release must
// be called exactly once.
func (s *laneSet) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	ln, ok := s.lanes[key]
	if !ok {
		ln = &lane{}
		s.lanes[key] = ln
	}
	if s.maxQueued > 0 && ln.waiting >= s.maxQueued {
		s.mu.Unlock()
		return nil, errors.NewDomainError(errors.DomainRateLimitError, "MUTATION_QUEUE_FULL", "Too many pending changes for this item").
			WithDetail("key", key).
			WithRetryable(true)
	}
	prev := ln.tail
	done := make(chan struct{})
	ln.tail = done
	ln.waiting++
	s.mu.Unlock()

	release := func() { s.finish(key, ln, done) }
	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

func (s *laneSet) finish(key string, ln *lane, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ln.waiting--
	close(done)
	if ln.tail == done {
		delete(s.lanes, key)
	}
}

// busy reports whether key has a holder or waiters
func (s *laneSet) busy(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lanes[key]
	return ok
}
