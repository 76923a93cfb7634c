package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// subscriber buffers updates in an unbounded FIFO and drains them to its
// channel from a dedicated goroutine. Publish never blocks on a slow
// consumer and never drops or reorders updates.
type subscriber struct {
	filter UpdateFilter

	mu    sync.Mutex
	queue []schema.FlowExecutionUpdate

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	out       chan schema.FlowExecutionUpdate
}

func newSubscriber(filter UpdateFilter) *subscriber {
	s := &subscriber{
		filter: filter,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan schema.FlowExecutionUpdate),
	}
	go s.drain()
	return s
}

func (s *subscriber) push(update schema.FlowExecutionUpdate) {
	s.mu.Lock()
	s.queue = append(s.queue, update)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			update := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- update:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// MemoryHub is an in-memory Hub implementation.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish enqueues the update for every matching subscriber.
func (h *MemoryHub) Publish(ctx context.Context, update schema.FlowExecutionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if matchFilter(sub.filter, update) {
			sub.push(update)
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given UpdateFilter.
// Returns a receive-only channel, a cancel function, and any error. The
// channel is closed once the subscription is cancelled.
func (h *MemoryHub) Subscribe(ctx context.Context, filter UpdateFilter) (<-chan schema.FlowExecutionUpdate, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	sub := newSubscriber(filter)

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.close()
	}

	return sub.out, cancel, nil
}

// matchFilter returns true if the update passes the filter criteria.
func matchFilter(f UpdateFilter, u schema.FlowExecutionUpdate) bool {
	if f.ExecutionID != "" && f.ExecutionID != u.ExecutionID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == u.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
