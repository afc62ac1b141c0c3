package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealarm/internal/alerting"
	"github.com/good-yellow-bee/blazealarm/internal/api/health"
	"github.com/good-yellow-bee/blazealarm/internal/dispatch"
	"github.com/good-yellow-bee/blazealarm/internal/models"
	"github.com/good-yellow-bee/blazealarm/internal/notifier"
	"github.com/good-yellow-bee/blazealarm/internal/storage"
)

type fakeStreams map[string]dispatch.StreamState

func (f fakeStreams) StreamStates() map[string]dispatch.StreamState { return f }

type fakeDelivery struct{ stats notifier.FanoutStats }

func (f fakeDelivery) Stats() notifier.FanoutStats { return f.stats }

type fakeArchive struct{ stats storage.ReceiptBufferStats }

func (f fakeArchive) Stats() storage.ReceiptBufferStats { return f.stats }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type envelope[T any] struct {
	Data  T      `json:"data"`
	Error *Error `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// testServer creates a server over a live supervisor with the default rules.
func testServer(t *testing.T, deps Deps) (*Server, *dispatch.Supervisor) {
	t.Helper()

	sup := dispatch.NewSupervisor(nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	deps.Tasks = sup
	if deps.Rules == nil {
		deps.Rules = dispatch.NewRuleSet(dispatch.DefaultTable())
	}

	srv, err := New(&Config{Address: ":0"}, deps, nil)
	require.NoError(t, err)
	return srv, sup
}

func do(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func spawnBlocking(sup *dispatch.Supervisor, handler, entity string) {
	h := dispatch.HandlerFunc(func(ctx context.Context, _ models.Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sup.Spawn(context.Background(), handler, entity, h, models.Event{})
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Deps{}, nil)
	assert.Error(t, err)

	_, err = New(&Config{}, Deps{}, nil)
	assert.Error(t, err)

	_, err = New(&Config{}, Deps{Tasks: dispatch.NewSupervisor(nil)}, nil)
	assert.Error(t, err)

	cfg := &Config{}
	srv, err := New(cfg, Deps{Tasks: dispatch.NewSupervisor(nil), Rules: dispatch.NewRuleSet(dispatch.DefaultTable())}, nil)
	require.NoError(t, err)
	assert.Equal(t, ":8081", srv.Address())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t, Deps{})

	rec := do(srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.RegisterHealthChecker(health.NewStoreChecker("sqlite", fakePinger{}))
	srv.RegisterHealthChecker(health.NewClickHouseChecker(fakePinger{errors.New("connection refused")}))

	rec = do(srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "ok", body.Checks["sqlite"])
	assert.Equal(t, "connection refused", body.Checks["clickhouse"])

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/livez").Code)
}

func TestListTasks(t *testing.T) {
	srv, sup := testServer(t, Deps{})
	spawnBlocking(sup, "item_alarms", "item-2")
	spawnBlocking(sup, "item_alarms", "item-1")
	spawnBlocking(sup, "geo_alarms", "mo-1")

	rec := do(srv, http.MethodGet, "/api/v1/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode[TaskListResponse](t, rec)
	require.Equal(t, 3, env.Data.Total)
	assert.Equal(t, "geo_alarms", env.Data.Items[0].Handler)
	assert.Equal(t, "item-1", env.Data.Items[1].EntityID)
	assert.NotEmpty(t, env.Data.Items[0].Generation)

	rec = do(srv, http.MethodGet, "/api/v1/tasks?handler=item_alarms&entity=item-2")
	env = decode[TaskListResponse](t, rec)
	require.Len(t, env.Data.Items, 1)
	assert.Equal(t, "item-2", env.Data.Items[0].EntityID)
}

func TestCancelTasks(t *testing.T) {
	srv, sup := testServer(t, Deps{})
	spawnBlocking(sup, "item_alarms", "item-1")
	spawnBlocking(sup, "global_alarms", "item-1")

	rec := do(srv, http.MethodDelete, "/api/v1/tasks/item-1")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode[CancelResponse](t, rec)
	assert.Equal(t, 2, env.Data.Cancelled)
	assert.Empty(t, sup.Tasks())

	rec = do(srv, http.MethodDelete, "/api/v1/tasks/item-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decode[any](t, rec).Error.Code)
}

func TestListRules(t *testing.T) {
	srv, _ := testServer(t, Deps{})

	rec := do(srv, http.MethodGet, "/api/v1/rules")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode[RuleListResponse](t, rec)

	names := make(map[string]RuleResponse)
	for _, r := range env.Data.Items {
		names[r.Name] = r
	}
	require.Contains(t, names, "item_alarms")
	require.Contains(t, names, notifier.HandlerName)
	assert.Equal(t, models.ShapeNotification, names[notifier.HandlerName].Shape)
	assert.True(t, names["item_alarms"].Enabled)
	assert.Equal(t, []string{"notifications", "objects"}, env.Data.Topics)
}

func TestStats(t *testing.T) {
	stats := &alerting.Stats{}
	stats.Evaluations.Add(7)
	srv, sup := testServer(t, Deps{
		Streams:  fakeStreams{"objects": dispatch.StreamLive, "notifications": dispatch.StreamReconnecting},
		Alerting: stats,
		Delivery: fakeDelivery{notifier.FanoutStats{Attempts: 3, Delivered: 2, Failed: 1}},
		Archive:  fakeArchive{storage.ReceiptBufferStats{Pending: 4}},
	})
	spawnBlocking(sup, "item_alarms", "item-1")

	rec := do(srv, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data struct {
			Supervisor dispatch.SupervisorStats   `json:"supervisor"`
			Streams    map[string]string          `json:"streams"`
			Alerting   alerting.StatsSnapshot     `json:"alerting"`
			Delivery   notifier.FanoutStats       `json:"delivery"`
			Archive    storage.ReceiptBufferStats `json:"archive"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 1, env.Data.Supervisor.Active)
	assert.Equal(t, "reconnecting", env.Data.Streams["notifications"])
	assert.EqualValues(t, 7, env.Data.Alerting.Evaluations)
	assert.EqualValues(t, 3, env.Data.Delivery.Attempts)
	assert.Equal(t, 4, env.Data.Archive.Pending)
}

func TestStatsWithoutOptionalDeps(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	rec := do(srv, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Contains(t, env.Data, "supervisor")
	assert.NotContains(t, env.Data, "alerting")
	assert.NotContains(t, env.Data, "archive")
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	rec := do(srv, http.MethodGet, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(srv, http.MethodPost, "/api/v1/rules")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, ErrCodeMethodNotAllowed, decode[any](t, rec).Error.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	srv.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
