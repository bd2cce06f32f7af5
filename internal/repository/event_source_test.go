package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestYAMLEventSource_BundledCatalog(t *testing.T) {
	src := NewYAMLEventSource(filepath.Join("..", "..", "config", "events.yaml"), nil)
	events, err := src.Events(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 12)

	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, date(1990, 8, 2), events[0].Date)
	assert.Equal(t, models.EventGeopolitical, events[0].Type)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
	assert.Equal(t, "Middle East", events[0].Region)

	byID := map[string]models.Event{}
	for _, e := range events {
		byID[e.ID] = e
	}
	assert.Equal(t, models.EventOther, byID["5"].Type, "Natural Disaster maps to Other")
	assert.Equal(t, models.EventOther, byID["11"].Type, "Health maps to Other")
	assert.Equal(t, models.EventPolicy, byID["10"].Type)
	assert.Equal(t, models.SeverityMedium, byID["2"].Severity)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Date.Before(events[i-1].Date), "catalog is date ordered")
	}
}

func TestYAMLEventSource_Filter(t *testing.T) {
	src := NewYAMLEventSource(filepath.Join("..", "..", "config", "events.yaml"), nil)
	events, err := src.Events(context.Background(), models.EventFilter{
		Types: []models.EventType{models.EventPolicy},
		Start: date(2016, 1, 1),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "10", events[0].ID)
}

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestYAMLEventSource_Rejects(t *testing.T) {
	cases := map[string]string{
		"duplicate id": `events:
  - {id: "1", name: a, date: "2020-01-01", type: Policy, severity: Low}
  - {id: "1", name: b, date: "2020-02-01", type: Policy, severity: Low}
`,
		"unknown severity": `events:
  - {id: "1", name: a, date: "2020-01-01", type: Policy, severity: Extreme}
`,
		"malformed date": `events:
  - {id: "1", name: a, date: "01/02/2020", type: Policy, severity: Low}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewYAMLEventSource(writeCatalog(t, body), nil).Events(context.Background(), models.EventFilter{})
			assert.ErrorContains(t, err, name)
		})
	}
}

func envelope(entries []catalogEntry) []byte {
	b, _ := json.Marshal(map[string]interface{}{"status": 200, "message": "OK", "data": entries})
	return b
}

func TestHTTPEventSource_RetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, []string{"Policy"}, r.URL.Query()["type"])
		assert.Equal(t, "2015-01-01", r.URL.Query().Get("start"))
		_, _ = w.Write(envelope([]catalogEntry{
			{ID: "10", Name: "OPEC production cuts", Date: "2016-11-30T00:00:00Z", Type: "Policy", Severity: "High"},
			{ID: "9", Name: "OPEC maintains production", Date: "2015-12-04", Type: "Policy", Severity: "Medium"},
		}))
	}))
	defer srv.Close()

	src := NewHTTPEventSource(srv.URL, WithHTTPBackoff(time.Millisecond))
	events, err := src.Events(context.Background(), models.EventFilter{
		Types: []models.EventType{models.EventPolicy},
		Start: date(2015, 1, 1),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	require.Len(t, events, 2)
	assert.Equal(t, "9", events[0].ID)
	assert.Equal(t, date(2016, 11, 30), events[1].Date)
}

func TestHTTPEventSource_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPEventSource(srv.URL, WithHTTPBackoff(time.Millisecond)).Events(context.Background(), models.EventFilter{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestEventQuery(t *testing.T) {
	q, args := eventQuery("market_events", models.EventFilter{Start: date(2000, 1, 1)})
	assert.Equal(t, "SELECT id, name, toString(date), type, severity, region FROM market_events FINAL WHERE date >= ? ORDER BY date ASC, id ASC", q)
	assert.Len(t, args, 1)

	q, args = priceQuery("brent_prices", time.Time{}, time.Time{})
	assert.Equal(t, "SELECT toString(date), toString(price) FROM brent_prices FINAL ORDER BY date ASC", q)
	assert.Empty(t, args)
}
