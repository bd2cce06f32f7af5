package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/internal/repository"
	"BrentBreaks/internal/service/ratelimit"
	"BrentBreaks/internal/usecase"
	"BrentBreaks/pkg/cache"

	"github.com/creasty/defaults"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

type stubPrices struct{ n int }

func (s stubPrices) Prices(context.Context, time.Time, time.Time) ([]models.RawRecord, error) {
	out := make([]models.RawRecord, s.n)
	for i := range out {
		out[i] = models.RawRecord{
			Line:  i + 2,
			Date:  day0.AddDate(0, 0, i).Format("2006-01-02"),
			Price: fmt.Sprintf("%d.5", 60+i%7),
		}
	}
	return out, nil
}

type stubEvents []models.Event

func (s stubEvents) Events(_ context.Context, f models.EventFilter) ([]models.Event, error) {
	var out []models.Event
	for _, e := range s {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

type pendingScheduler struct{ calls int }

func (p *pendingScheduler) Schedule(context.Context, models.AnalysisConfig, string) (bool, error) {
	p.calls++
	return true, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestHandler(t *testing.T, rl *ratelimit.Limiter) (*echo.Echo, *pendingScheduler) {
	t.Helper()
	var cfg models.AnalysisConfig
	require.NoError(t, defaults.Set(&cfg))

	events := stubEvents{
		{ID: "1", Name: "Sanctions", Date: day0.AddDate(0, 0, 5), Type: models.EventGeopolitical, Severity: models.SeverityHigh},
		{ID: "2", Name: "Rate hike", Date: day0.AddDate(0, 0, 20), Type: models.EventFinancial, Severity: models.SeverityLow},
	}
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := repository.NewCachedSnapshotStore(mem)
	dataset := usecase.NewDatasetService(stubPrices{n: 40}, []string{"2006-01-02"}, false, time.Minute, nil)
	runner := usecase.NewRunner(dataset, events, store)
	sched := &pendingScheduler{}
	q := usecase.NewQueryService(cfg, dataset, events, store, runner, usecase.WithScheduler(sched))

	e := echo.New()
	NewBrentHandler(q, rl, nil).RegisterRoutes(e)
	return e, sched
}

func get(t *testing.T, e *echo.Echo, target string) envelope {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestBrentHandler_Prices(t *testing.T) {
	e, _ := newTestHandler(t, nil)

	env := get(t, e, "/api/prices?limit=10")
	assert.Equal(t, http.StatusOK, env.Status)
	var points []models.PricePoint
	require.NoError(t, json.Unmarshal(env.Data, &points))
	assert.Len(t, points, 10)

	env = get(t, e, "/api/prices?start=2021-03-05&end=2021-03-09")
	require.NoError(t, json.Unmarshal(env.Data, &points))
	assert.Len(t, points, 5)

	env = get(t, e, "/api/prices?start=03/05/2021")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestBrentHandler_Events(t *testing.T) {
	e, _ := newTestHandler(t, nil)

	env := get(t, e, "/api/events?type=Financial")
	var events []models.Event
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].ID)

	env = get(t, e, "/api/events?type=all")
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 2)

	env = get(t, e, "/api/events?type=Weather")
	assert.Equal(t, http.StatusBadRequest, env.Status)

	env = get(t, e, "/api/event-types")
	var types []string
	require.NoError(t, json.Unmarshal(env.Data, &types))
	assert.Equal(t, []string{"Geopolitical", "Financial", "Policy", "Other"}, types)
}

func TestBrentHandler_ChangePointsPending(t *testing.T) {
	e, sched := newTestHandler(t, nil)

	env := get(t, e, "/api/change-points?strategy=joint&joint_count=2")
	assert.Equal(t, http.StatusOK, env.Status)
	var resp models.ChangePointsResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Len(t, resp.Fingerprint, 64)
	assert.Equal(t, 1, sched.calls)

	env = get(t, e, "/api/change-points?strategy=magic")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestBrentHandler_NotFoundAndBadRequest(t *testing.T) {
	e, _ := newTestHandler(t, nil)

	env := get(t, e, "/api/event-impact/unknown")
	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.Contains(t, string(env.Data), "ERR_NOT_FOUND")

	env = get(t, e, "/api/snapshots/not-a-fingerprint")
	assert.Equal(t, http.StatusBadRequest, env.Status)

	env = get(t, e, "/api/snapshots/"+strings.Repeat("ab", 32))
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestBrentHandler_EventPriceImpact(t *testing.T) {
	e, _ := newTestHandler(t, nil)

	env := get(t, e, "/api/events/1/price-impact?window_days=3")
	assert.Equal(t, http.StatusOK, env.Status)
	var impact models.EventPriceImpact
	require.NoError(t, json.Unmarshal(env.Data, &impact))
	assert.Equal(t, 3, impact.WindowDays)
	assert.Len(t, impact.DataPoints, 7)
	require.NotNil(t, impact.PriceChangePct)

	env = get(t, e, "/api/events/1/price-impact")
	require.NoError(t, json.Unmarshal(env.Data, &impact))
	assert.Equal(t, 30, impact.WindowDays)

	env = get(t, e, "/api/events/1/price-impact?window_days=0")
	assert.Equal(t, http.StatusOK, env.Status, "zero falls back to the default window")
}

func TestBrentHandler_IndexStatsValidation(t *testing.T) {
	e, _ := newTestHandler(t, nil)

	env := get(t, e, "/")
	var st models.ServiceStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 40, st.PriceCount)
	assert.Equal(t, 2, st.EventCount)

	env = get(t, e, "/api/stats")
	var stats models.SummaryStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 40, stats.RecordCount)
	assert.Equal(t, day0, stats.DateRange.Start)

	env = get(t, e, "/api/validation")
	var v models.ValidationResponse
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, 40, v.Accepted)
	assert.Zero(t, v.Rejected)

	env = get(t, e, "/healthz")
	assert.Equal(t, http.StatusOK, env.Status)
}

func TestBrentHandler_RateLimited(t *testing.T) {
	e, _ := newTestHandler(t, ratelimit.New(1, 0.001))

	assert.Equal(t, http.StatusOK, get(t, e, "/api/event-types").Status)
	env := get(t, e, "/api/event-types")
	assert.Equal(t, http.StatusTooManyRequests, env.Status)
	assert.Contains(t, string(env.Data), "ERR_RATE_LIMITED")
}

func TestRunFeed_BroadcastsToClients(t *testing.T) {
	feed := NewRunFeed(nil)
	e := echo.New()
	feed.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return feed.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	feed.Broadcast(models.RunNotification{SnapshotID: "s1", Fingerprint: "fp", Status: models.StatusOK, ChangePoints: 3})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type string                 `json:"type"`
		Data models.RunNotification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "run", msg.Type)
	assert.Equal(t, "fp", msg.Data.Fingerprint)
	assert.Equal(t, 3, msg.Data.ChangePoints)

	require.NoError(t, feed.Close())
	assert.Equal(t, 0, feed.Clients())
}

func TestBrentHandler_FailMapsDomainErrors(t *testing.T) {
	h := NewBrentHandler(nil, nil, nil)
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		params map[string]interface{}
	}{
		{
			name:   "insufficient",
			err:    fmt.Errorf("run: %w", &models.InsufficientDataError{Length: 12, MinSegment: 30}),
			status: http.StatusUnprocessableEntity,
			code:   "ERR_INSUFFICIENT_DATA",
			params: map[string]interface{}{"length": float64(12), "min_segment": float64(30)},
		},
		{
			name:   "inference",
			err:    &models.InferenceFailureError{Reason: "every chain diverged", Chains: make([]models.ChainDiagnostic, 4)},
			status: http.StatusServiceUnavailable,
			code:   "ERR_INFERENCE_FAILED",
			params: map[string]interface{}{"chains": float64(4)},
		},
		{
			name:   "internal",
			err:    fmt.Errorf("dial tcp 10.0.0.1:9000: connection refused"),
			status: http.StatusInternalServerError,
			code:   "ERR_INTERNAL",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/change-points", nil), rec)
			require.NoError(t, h.fail(c, "change_points", tc.err))
			require.Equal(t, http.StatusOK, rec.Code)

			var env envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tc.status, env.Status)
			var errs []struct {
				Code   string                 `json:"code"`
				Params map[string]interface{} `json:"params"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &errs))
			require.Len(t, errs, 1)
			assert.Equal(t, tc.code, errs[0].Code)
			for k, v := range tc.params {
				assert.Equal(t, v, errs[0].Params[k])
			}
			assert.NotContains(t, string(env.Data), "10.0.0.1")
		})
	}
}
