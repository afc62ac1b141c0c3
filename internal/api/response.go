package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/good-yellow-bee/blazealarm/internal/alerting"
	"github.com/good-yellow-bee/blazealarm/internal/dispatch"
	"github.com/good-yellow-bee/blazealarm/internal/models"
	"github.com/good-yellow-bee/blazealarm/internal/notifier"
	"github.com/good-yellow-bee/blazealarm/internal/storage"
)

// Response is a standard API response wrapper.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{Data: data}
	json.NewEncoder(w).Encode(resp)
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)

	resp := Response{Error: err}
	json.NewEncoder(w).Encode(resp)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// TaskResponse is one running evaluation task.
type TaskResponse struct {
	Handler    string    `json:"handler"`
	EntityID   string    `json:"entity_id"`
	Generation string    `json:"generation"`
	StartedAt  time.Time `json:"started_at"`
	RunningFor string    `json:"running_for"`
}

// TaskListResponse lists running tasks.
type TaskListResponse struct {
	Items []TaskResponse `json:"items"`
	Total int            `json:"total"`
}

// CancelResponse reports how many tasks were cancelled.
type CancelResponse struct {
	EntityID  string `json:"entity_id"`
	Cancelled int    `json:"cancelled"`
}

// RuleResponse is one dispatch rule.
type RuleResponse struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Handler     string            `json:"handler"`
	Topic       string            `json:"topic"`
	Shape       models.EventShape `json:"shape"`
	Condition   string            `json:"condition"`
	Enabled     bool              `json:"enabled"`
}

// RuleListResponse lists the active rule table.
type RuleListResponse struct {
	Items  []RuleResponse `json:"items"`
	Topics []string       `json:"topics"`
}

// StatsResponse aggregates engine statistics.
type StatsResponse struct {
	Supervisor dispatch.SupervisorStats        `json:"supervisor"`
	Streams    map[string]dispatch.StreamState `json:"streams,omitempty"`
	Alerting   *alerting.StatsSnapshot         `json:"alerting,omitempty"`
	Delivery   *notifier.FanoutStats           `json:"delivery,omitempty"`
	Archive    *storage.ReceiptBufferStats     `json:"archive,omitempty"`
}
