package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// TaskInfo describes a running evaluation task.
type TaskInfo struct {
	Handler    string    `json:"handler"`
	EntityID   string    `json:"entityId"`
	Generation string    `json:"generation"`
	StartedAt  time.Time `json:"startedAt"`
}

type taskKey struct {
	handler string
	entity  string
}

type task struct {
	info      TaskInfo
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool // guarded by Supervisor.mu
}

// SupervisorStats is a snapshot of supervisor counters.
type SupervisorStats struct {
	Active    int   `json:"active"`
	Started   int64 `json:"started"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
}

// Supervisor keeps at most one live task per (handler, entity). Spawning a
// task for a busy key cancels the running one; the new task starts once the
// previous one has returned, so writes for an entity never interleave.
type Supervisor struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[taskKey]*task
	stats SupervisorStats
	wg    sync.WaitGroup
}

// NewSupervisor creates a supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger: logger.With(zap.String("component", "supervisor")),
		tasks:  make(map[taskKey]*task),
	}
}

// Spawn starts h for ev under (handler, entityID) and returns the task
// generation. A running task under the same key is cancelled first.
func (s *Supervisor) Spawn(ctx context.Context, handler, entityID string, h Handler, ev models.Event) string {
	key := taskKey{handler: handler, entity: entityID}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		info: TaskInfo{
			Handler:    handler,
			EntityID:   entityID,
			Generation: uuid.NewString(),
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.tasks[key]
	if prev != nil {
		s.cancelLocked(key, prev)
	}
	s.tasks[key] = t
	s.stats.Started++
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.TasksStartedTotal.WithLabelValues(handler).Inc()
	metrics.TasksActive.Inc()

	go s.run(taskCtx, key, t, prev, h, ev)
	return t.info.Generation
}

func (s *Supervisor) run(ctx context.Context, key taskKey, t *task, prev *task, h Handler, ev models.Event) {
	log := s.logger.With(
		zap.String("handler", key.handler),
		zap.String("entity_id", key.entity),
		zap.String("generation", t.info.Generation),
	)
	defer func() {
		t.cancel()
		metrics.TasksActive.Dec()
		metrics.TaskDuration.WithLabelValues(key.handler).Observe(time.Since(t.info.StartedAt).Seconds())
		s.mu.Lock()
		if s.tasks[key] == t {
			delete(s.tasks, key)
		}
		s.mu.Unlock()
		close(t.done)
		s.wg.Done()
	}()

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			// done must not close before every earlier task has returned.
			<-prev.done
			log.Debug("superseded before start")
			return
		}
	}

	err := s.invoke(ctx, h, ev)
	switch {
	case err == nil:
		s.count(func(st *SupervisorStats) { st.Completed++ })
		log.Debug("task completed")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Debug("task cancelled", zap.Error(err))
	default:
		s.count(func(st *SupervisorStats) { st.Failed++ })
		metrics.TasksFailedTotal.WithLabelValues(key.handler).Inc()
		log.Error("task failed", zap.Error(err))
	}
}

// invoke runs the handler, turning a panic into an error.
func (s *Supervisor) invoke(ctx context.Context, h Handler, ev models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Handle(ctx, ev)
}

func (s *Supervisor) cancelLocked(key taskKey, t *task) {
	t.cancel()
	if t.cancelled {
		return
	}
	t.cancelled = true
	s.stats.Cancelled++
	metrics.TasksCancelledTotal.WithLabelValues(key.handler).Inc()
}

func (s *Supervisor) count(f func(*SupervisorStats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

// CancelEntity cancels every task running for entityID and returns how
// many were cancelled. Cancelled tasks stay registered until they return.
func (s *Supervisor) CancelEntity(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, t := range s.tasks {
		if key.entity != entityID || t.cancelled {
			continue
		}
		s.cancelLocked(key, t)
		n++
	}
	return n
}

// Tasks lists the live tasks ordered by handler and entity.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.cancelled {
			out = append(out, t.info)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handler != out[j].Handler {
			return out[i].Handler < out[j].Handler
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// Stats returns a snapshot of the supervisor counters.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	for _, t := range s.tasks {
		if !t.cancelled {
			st.Active++
		}
	}
	return st
}

// Shutdown cancels every task and waits for them to return or ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every spawned task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
