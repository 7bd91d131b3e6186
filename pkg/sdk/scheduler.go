package sdk

import "sync"

// scheduler is a single-worker task queue. Tasks run one at a time in
// submission order, which gives the client pipeline its single-threaded
// semantics without the caller ever blocking on collection work.
type scheduler struct {
	mu     sync.Mutex
	tasks  chan func()
	done   chan struct{}
	closed bool
}

func newScheduler(depth int) *scheduler {
	if depth <= 0 {
		depth = 256
	}
	s := &scheduler{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *scheduler) run() {
	defer close(s.done)
	for task := range s.tasks {
		task()
	}
}

// submit queues a task without blocking. Returns false when the scheduler
// is closed or the queue is full; the task is dropped in both cases.
func (s *scheduler) submit(task func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops accepting tasks, runs everything already queued, and waits
// for the worker to finish. Safe to call more than once.
func (s *scheduler) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()
	<-s.done
}
