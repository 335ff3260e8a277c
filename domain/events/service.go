package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
)

// subscriberBuffer is how many events a slow subscriber may lag behind
// before further events are dropped for it.
const subscriberBuffer = 64

type subscriber struct {
	ch   chan ChangeEvent
	done chan struct{}
}

// Service is an in-process, project-scoped change event fan-out.
// Each subscriber is drained by its own goroutine so a slow stream
// never blocks the writer that emitted the event.
type Service struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[uint64]*subscriber
	nextID      uint64
	closed      bool
}

// NewService creates a new events service
func NewService(log *slog.Logger) *Service {
	return &Service{
		log:         log.With(logger.Scope("events")),
		subscribers: make(map[uuid.UUID]map[uint64]*subscriber),
	}
}

// Subscribe registers fn for events of projectID. The returned function
// unsubscribes and waits for fn's goroutine to finish; it is safe to call twice.
func (s *Service) Subscribe(projectID uuid.UUID, fn func(ChangeEvent)) func() {
	sub := &subscriber{
		ch:   make(chan ChangeEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	s.nextID++
	id := s.nextID
	if s.subscribers[projectID] == nil {
		s.subscribers[projectID] = make(map[uint64]*subscriber)
	}
	s.subscribers[projectID][id] = sub
	s.mu.Unlock()
	metrics.EventSubscribers.Inc()

	go func() {
		defer close(sub.done)
		for ev := range sub.ch {
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if subs, ok := s.subscribers[projectID]; ok {
				if _, ok := subs[id]; ok {
					delete(subs, id)
					close(sub.ch)
					metrics.EventSubscribers.Dec()
				}
				if len(subs) == 0 {
					delete(s.subscribers, projectID)
				}
			}
			s.mu.Unlock()
			<-sub.done
		})
	}
}

// Emit delivers ev to every subscriber of its project without blocking.
func (s *Service) Emit(ev ChangeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sub := range s.subscribers[ev.ProjectID] {
		select {
		case sub.ch <- ev:
		default:
			s.log.Warn("dropping event for slow subscriber",
				slog.Uint64("subscriber", id),
				slog.String("project_id", ev.ProjectID.String()),
				slog.String("type", string(ev.Type)),
			)
		}
	}
}

// SubscriberCount returns the number of subscribers for a project.
func (s *Service) SubscriberCount(projectID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[projectID])
}

// TotalSubscriberCount returns the number of subscribers across projects.
func (s *Service) TotalSubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, subs := range s.subscribers {
		total += len(subs)
	}
	return total
}

// Close detaches every subscriber and waits for their goroutines.
// Later Subscribe calls return a no-op.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	var pending []*subscriber
	for projectID, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.ch)
			pending = append(pending, sub)
			metrics.EventSubscribers.Dec()
		}
		delete(s.subscribers, projectID)
	}
	s.mu.Unlock()

	for _, sub := range pending {
		<-sub.done
	}
}
