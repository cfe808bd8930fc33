package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Task purposes used as scheduler keys
const (
	PurposeEscalation  = "escalation"
	PurposeRepeat      = "escalation_repeat"
	PurposeRotation    = "rotation"
	PurposeGroupNotify = "group_notify"
)

// TaskKey identifies one deferred task. Scheduling a key that is
// already pending replaces the previous task.
type TaskKey struct {
	EntityID string
	Purpose  string
}

// Scheduler runs cancellable deferred tasks keyed by (entity, purpose).
// Cancelling every task for an entity is a single operation so that
// acknowledging an incident cannot race a late-firing level timer.
type Scheduler struct {
	clock  Clock
	logger *logrus.Entry

	mu      sync.Mutex
	stopped bool
	tasks   map[TaskKey]Timer
}

// NewScheduler creates a scheduler on the given clock
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: utils.ComponentLogger("scheduler"),
		tasks:  make(map[TaskKey]Timer),
	}
}

// Schedule registers fn to run after delay. A zero or negative delay
// runs fn synchronously.
func (s *Scheduler) Schedule(key TaskKey, delay time.Duration, fn func()) {
	if delay <= 0 {
		fn()
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.Stop()
	}
	s.tasks[key] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"entity_id": key.EntityID,
		"purpose":   key.Purpose,
		"delay":     delay,
	}).Debug("Task scheduled")
}

// Cancel stops one pending task
func (s *Scheduler) Cancel(key TaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.tasks[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.tasks, key)
	return true
}

// CancelEntity stops every pending task for an entity and returns how
// many were cancelled.
func (s *Scheduler) CancelEntity(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for key, timer := range s.tasks {
		if key.EntityID == entityID {
			timer.Stop()
			delete(s.tasks, key)
			cancelled++
		}
	}
	return cancelled
}

// Pending returns the number of outstanding tasks
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels all tasks and rejects further scheduling
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, timer := range s.tasks {
		timer.Stop()
		delete(s.tasks, key)
	}
	s.stopped = true
}
