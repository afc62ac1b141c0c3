package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// listTasks returns the running evaluation tasks, optionally filtered by
// ?handler= and ?entity=.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	handler := r.URL.Query().Get("handler")
	entity := r.URL.Query().Get("entity")
	now := time.Now()

	items := []TaskResponse{}
	for _, t := range s.deps.Tasks.Tasks() {
		if handler != "" && t.Handler != handler {
			continue
		}
		if entity != "" && t.EntityID != entity {
			continue
		}
		items = append(items, TaskResponse{
			Handler:    t.Handler,
			EntityID:   t.EntityID,
			Generation: t.Generation,
			StartedAt:  t.StartedAt,
			RunningFor: now.Sub(t.StartedAt).Round(time.Millisecond).String(),
		})
	}
	OK(w, TaskListResponse{Items: items, Total: len(items)})
}

// cancelTasks cancels every task of one entity.
func (s *Server) cancelTasks(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	if entityID == "" {
		JSONError(w, NewBadRequest("entity id is required"))
		return
	}
	n := s.deps.Tasks.CancelEntity(entityID)
	if n == 0 {
		JSONError(w, NewNotFound("no running task for entity %s", entityID))
		return
	}
	s.logger.Info("tasks cancelled by operator", zap.String("entity_id", entityID), zap.Int("count", n))
	OK(w, CancelResponse{EntityID: entityID, Cancelled: n})
}

// listRules returns the active rule table.
func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	table := s.deps.Rules.Load()
	resp := RuleListResponse{Items: []RuleResponse{}, Topics: table.Topics()}
	for _, rule := range table.Rules() {
		resp.Items = append(resp.Items, RuleResponse{
			Name:        rule.Name,
			Description: rule.Description,
			Handler:     rule.HandlerName(),
			Topic:       rule.Topic,
			Shape:       rule.Shape,
			Condition:   rule.Condition,
			Enabled:     rule.IsEnabled(),
		})
	}
	OK(w, resp)
}

// stats returns counters from every engine component that is wired.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Supervisor: s.deps.Tasks.Stats()}
	if s.deps.Streams != nil {
		resp.Streams = s.deps.Streams.StreamStates()
	}
	if s.deps.Alerting != nil {
		snap := s.deps.Alerting.Snapshot()
		resp.Alerting = &snap
	}
	if s.deps.Delivery != nil {
		d := s.deps.Delivery.Stats()
		resp.Delivery = &d
	}
	if s.deps.Archive != nil {
		a := s.deps.Archive.Stats()
		resp.Archive = &a
	}
	OK(w, resp)
}
