package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	"BrentBreaks/pkg/cache"
	"BrentBreaks/pkg/queue"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type fakePrices struct {
	mu      sync.Mutex
	records []models.RawRecord
	calls   atomic.Int32
}

func (f *fakePrices) Prices(context.Context, time.Time, time.Time) ([]models.RawRecord, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RawRecord(nil), f.records...), nil
}

func (f *fakePrices) set(records []models.RawRecord) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

type fakeEvents []models.Event

func (f fakeEvents) Events(_ context.Context, filter models.EventFilter) ([]models.Event, error) {
	var out []models.Event
	for _, e := range f {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]*models.Snapshot
	puts  int
}

func newMemStore() *memStore { return &memStore{snaps: map[string]*models.Snapshot{}} }

func (m *memStore) Get(_ context.Context, fp string) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snaps[fp]; ok {
		return s, nil
	}
	return nil, domrepo.ErrSnapshotNotFound
}

func (m *memStore) FindByChangePoint(_ context.Context, id string) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snaps {
		if _, ok := s.ChangePoint(id); ok {
			return s, nil
		}
	}
	return nil, domrepo.ErrSnapshotNotFound
}

func (m *memStore) Put(_ context.Context, s *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[s.Fingerprint]; ok {
		return nil
	}
	m.snaps[s.Fingerprint] = s
	m.puts++
	return nil
}

func (m *memStore) Latest(context.Context) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Snapshot
	for _, s := range m.snaps {
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, domrepo.ErrSnapshotNotFound
	}
	return latest, nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	seen []models.RunNotification
}

func (b *recordingBroadcaster) Broadcast(n models.RunNotification) {
	b.mu.Lock()
	b.seen = append(b.seen, n)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeScheduler) Schedule(_ context.Context, _ models.AnalysisConfig, fp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == fp {
			return false, nil
		}
	}
	f.calls = append(f.calls, fp)
	return true, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []json.RawMessage
}

func (q *fakeQueue) RegisterJob(queue.Job) {}
func (q *fakeQueue) Start() error { return nil }
func (q *fakeQueue) Stop(context.Context) error { return nil }

func (q *fakeQueue) Enqueue(_ context.Context, _ string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.payloads = append(q.payloads, b)
	q.mu.Unlock()
	return nil
}

// records renders daily prices starting at day0.
func records(prices []float64) []models.RawRecord {
	out := make([]models.RawRecord, len(prices))
	for i, p := range prices {
		out[i] = models.RawRecord{
			Line:  i + 2,
			Date:  day0.AddDate(0, 0, i).Format("2006-01-02"),
			Price: fmt.Sprintf("%.4f", p),
		}
	}
	return out
}

// shifted draws n noisy prices whose mean moves from 50 to 70 at index at.
func shifted(seed uint64, n, at int) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		mean := 50.0
		if i >= at {
			mean = 70
		}
		out[i] = mean + 2*rng.NormFloat64()
	}
	return out
}

func testConfig(t *testing.T) models.AnalysisConfig {
	t.Helper()
	var cfg models.AnalysisConfig
	require.NoError(t, defaults.Set(&cfg))
	cfg.Calendar.Unit = models.UnitCalendarDay
	cfg.Engine.Domain = models.DomainPrice
	cfg.Engine.MinSegment = 20
	cfg.Engine.Chains = 2
	cfg.Engine.BurnIn = 100
	cfg.Engine.Samples = 200
	return cfg
}

type fixture struct {
	prices  *fakePrices
	events  fakeEvents
	store   *memStore
	bcast   *recordingBroadcaster
	dataset *DatasetService
	runner  *Runner
}

func newFixture(prices []float64, events ...models.Event) *fixture {
	f := &fixture{
		prices: &fakePrices{records: records(prices)},
		events: fakeEvents(events),
		store:  newMemStore(),
		bcast:  &recordingBroadcaster{},
	}
	f.dataset = NewDatasetService(f.prices, []string{"2006-01-02"}, false, time.Minute, nil)
	f.runner = NewRunner(f.dataset, f.events, f.store, WithBroadcaster(f.bcast))
	return f
}

func TestDatasetService_LoadsOnceUntilInvalidated(t *testing.T) {
	f := newFixture(shifted(1, 50, 25))
	ctx := context.Background()

	a, err := f.dataset.Load(ctx)
	require.NoError(t, err)
	b, err := f.dataset.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), f.prices.calls.Load())
	assert.Equal(t, 50, a.Series.Len())

	f.prices.set(records(shifted(2, 60, 30)))
	f.dataset.Invalidate()
	c, err := f.dataset.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.prices.calls.Load())
	assert.Equal(t, 60, c.Series.Len())
	assert.NotEqual(t, a.SeriesHash, c.SeriesHash)
}

func TestFingerprint_DependsOnConfigAndSeries(t *testing.T) {
	cfg := testConfig(t)
	fp1, ch1, err := Fingerprint(cfg, "series-a")
	require.NoError(t, err)
	fp2, _, err := Fingerprint(cfg, "series-a")
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)

	fp3, _, err := Fingerprint(cfg, "series-b")
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)

	cfg.Engine.MinSegment = 40
	fp4, ch4, err := Fingerprint(cfg, "series-a")
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp4)
	assert.NotEqual(t, ch1, ch4)
}

func TestRunner_StoresOneSnapshotPerFingerprint(t *testing.T) {
	event := models.Event{ID: "7", Name: "Supply cut", Date: day0.AddDate(0, 0, 82), Type: models.EventGeopolitical, Severity: models.SeverityHigh}
	f := newFixture(shifted(3, 160, 80), event)
	cfg := testConfig(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	snaps := make([]*models.Snapshot, 4)
	for i := range snaps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.runner.Run(ctx, cfg)
			assert.NoError(t, err)
			snaps[i] = s
		}(i)
	}
	wg.Wait()

	require.NotNil(t, snaps[0])
	for _, s := range snaps[1:] {
		require.NotNil(t, s)
		assert.Equal(t, snaps[0].ID, s.ID)
	}
	assert.Equal(t, 1, f.store.puts)
	assert.Equal(t, 1, f.bcast.count())

	snap := snaps[0]
	assert.Contains(t, []models.RunStatus{models.StatusOK, models.StatusLowConfidence}, snap.Status)
	require.NotEmpty(t, snap.ChangePoints)
	var near *models.ChangePointPosterior
	for i := range snap.ChangePoints {
		if cp := snap.ChangePoints[i]; cp.PointEstimate >= 70 && cp.PointEstimate <= 90 {
			near = &snap.ChangePoints[i]
		}
	}
	require.NotNil(t, near, "no change point near the injected shift")
	links := snap.Links[near.ID]
	require.NotEmpty(t, links)
	assert.Equal(t, "7", links[0].Event.ID)
	assert.Equal(t, models.TemporalCaveat, links[0].Caveat)
	assert.Equal(t, 160, snap.Summary.RecordCount)
}

func TestRunner_ShortSeriesIsInsufficientData(t *testing.T) {
	f := newFixture(shifted(4, 30, 15))
	snap, err := f.runner.Run(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, models.StatusInsufficientData, snap.Status)
	assert.Contains(t, snap.Reason, "shorter than twice the minimum segment")
	assert.Empty(t, snap.ChangePoints)
}

func TestRunner_InvalidSeriesFailsWithoutSnapshot(t *testing.T) {
	f := newFixture(nil)
	f.prices.set([]models.RawRecord{{Line: 2, Date: "20/01/2020", Price: "50"}})
	cfg := testConfig(t)
	ctx := context.Background()

	_, err := f.runner.Run(ctx, cfg)
	require.Error(t, err)
	assert.Equal(t, 0, f.store.puts)

	_, fp, err := f.runner.Resolve(ctx, cfg)
	require.NoError(t, err)
	failed, ok := f.runner.Failure(fp)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, 1, f.bcast.count())
}

type runMetrics struct {
	mu           sync.Mutex
	chains       int
	changePoints int
	runs         []string
}

func (m *runMetrics) RecordRun(_ string, status string, _ time.Duration) {
	m.mu.Lock()
	m.runs = append(m.runs, status)
	m.mu.Unlock()
}

func (m *runMetrics) RecordChains(total, _, _ int) {
	m.mu.Lock()
	m.chains += total
	m.mu.Unlock()
}

func (m *runMetrics) RecordChangePoints(n int) {
	m.mu.Lock()
	m.changePoints += n
	m.mu.Unlock()
}

func (m *runMetrics) RecordSnapshotLookup(bool) {}
func (m *runMetrics) RecordError(string)        {}

func TestRunner_RecordsEachChainOnce(t *testing.T) {
	f := newFixture(shifted(6, 200, 100))
	m := &runMetrics{}
	f.runner = NewRunner(f.dataset, f.events, f.store, WithRunnerMetrics(m))
	cfg := testConfig(t)

	snap, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotEmpty(t, snap.ChangePoints)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, cfg.Engine.Chains*len(snap.ChangePoints), m.chains)
	assert.Equal(t, len(snap.ChangePoints), m.changePoints)
	assert.Equal(t, []string{string(snap.Status)}, m.runs)
}

// gappyRecords renders prices on consecutive days, leaving out the days in
// each half-open [from, to) range.
func gappyRecords(prices []float64, gaps ...[2]int) []models.RawRecord {
	var out []models.RawRecord
	for _, r := range records(prices) {
		skip := false
		for _, g := range gaps {
			if i := r.Line - 2; i >= g[0] && i < g[1] {
				skip = true
			}
		}
		if !skip {
			out = append(out, r)
		}
	}
	return out
}

func nearShift(cps []models.ChangePointPosterior, lo, hi int) *models.ChangePointPosterior {
	for i := range cps {
		if cps[i].PointEstimate >= lo && cps[i].PointEstimate <= hi {
			return &cps[i]
		}
	}
	return nil
}

func TestRunner_ForwardFillPolicy(t *testing.T) {
	f := newFixture(nil)
	f.prices.set(gappyRecords(shifted(7, 200, 100), [2]int{40, 45}, [2]int{150, 165}))
	cfg := testConfig(t)
	cfg.Calendar.Policy = models.PolicyForwardFill

	snap, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 180, snap.Summary.RecordCount)
	assert.Contains(t, snap.Warnings, "unreliable segment 150..164: forward-filled 15 units, above limit 10")

	cp := nearShift(snap.ChangePoints, 90, 110)
	require.NotNil(t, cp, "no change point near the injected shift")
	assert.InDelta(t, 50, cp.MeanBefore, 1)
	for _, c := range snap.ChangePoints {
		assert.GreaterOrEqual(t, c.CredibleInterval.Low, 0)
		assert.LessOrEqual(t, c.CredibleInterval.High, 199)
	}
}

func TestRunner_GapAsMissingPolicy(t *testing.T) {
	f := newFixture(nil)
	f.prices.set(gappyRecords(shifted(8, 200, 100), [2]int{40, 45}, [2]int{95, 105}))
	cfg := testConfig(t)
	cfg.Calendar.Policy = models.PolicyGapAsMissing

	snap, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.DomainPrice, snap.Domain)

	cp := nearShift(snap.ChangePoints, 90, 110)
	require.NotNil(t, cp, "no change point near the injected shift")
	assert.False(t, math.IsNaN(cp.MeanBefore))
	assert.InDelta(t, 50, cp.MeanBefore, 1)
	assert.InDelta(t, 70, cp.MeanAfter, 1)
	assert.GreaterOrEqual(t, cp.CredibleInterval.Low, 90)
	assert.LessOrEqual(t, cp.CredibleInterval.High, 110)
}

func TestQueryService_ChangePointsPendingThenServed(t *testing.T) {
	f := newFixture(shifted(5, 120, 60))
	sched := &fakeScheduler{}
	cfg := testConfig(t)
	q := NewQueryService(cfg, f.dataset, f.events, f.store, f.runner, WithScheduler(sched))
	ctx := context.Background()

	resp, err := q.ChangePoints(ctx, models.ChangePointsRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Empty(t, resp.ChangePoints)

	again, err := q.ChangePoints(ctx, models.ChangePointsRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
	assert.Equal(t, resp.Fingerprint, again.Fingerprint)
	assert.Len(t, sched.calls, 1)

	_, err = f.runner.Run(ctx, cfg)
	require.NoError(t, err)

	served, err := q.ChangePoints(ctx, models.ChangePointsRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusPending, served.Status)
	assert.Equal(t, resp.Fingerprint, served.Fingerprint)
	assert.NotEmpty(t, served.SnapshotID)
	require.NotNil(t, served.CreatedAt)
}

func TestQueryService_ChangePointsInlineWithoutScheduler(t *testing.T) {
	f := newFixture(shifted(6, 120, 60))
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)

	resp, err := q.ChangePoints(context.Background(), models.ChangePointsRequest{Strategy: models.StrategyBinarySeg})
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusPending, resp.Status)
	assert.Equal(t, 1, f.store.puts)
	for i := 1; i < len(resp.ChangePoints); i++ {
		assert.Less(t, resp.ChangePoints[i-1].PointEstimate, resp.ChangePoints[i].PointEstimate)
	}
}

func TestQueryService_ChangePointsRejectsInvalidConfig(t *testing.T) {
	f := newFixture(shifted(7, 60, 30))
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)

	_, err := q.ChangePoints(context.Background(), models.ChangePointsRequest{MinSegment: 1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestQueryService_ChangePointsReportsRecentFailure(t *testing.T) {
	f := newFixture(nil)
	f.prices.set([]models.RawRecord{{Line: 2, Date: "bad", Price: "50"}})
	sched := &fakeScheduler{}
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner, WithScheduler(sched))
	ctx := context.Background()

	_, err := f.runner.Run(ctx, testConfig(t))
	require.Error(t, err)

	resp, err := q.ChangePoints(ctx, models.ChangePointsRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.NotEmpty(t, resp.Reason)
	assert.Nil(t, resp.CreatedAt)
	assert.Empty(t, sched.calls)
}

func TestQueryService_PricesFiltersAndThins(t *testing.T) {
	f := newFixture(shifted(8, 160, 80))
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)
	ctx := context.Background()

	s, err := q.Prices(ctx, models.PriceSeriesRequest{Limit: 40})
	require.NoError(t, err)
	assert.Equal(t, 40, s.Len())
	assert.Equal(t, day0, s.Start())
	assert.Equal(t, day0.AddDate(0, 0, 4), s.Points[1].Date)
	assert.Len(t, s.LogReturn, 40)

	// 160/100 rounds down to a step of one, so nothing is dropped.
	s, err = q.Prices(ctx, models.PriceSeriesRequest{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 160, s.Len())

	s, err = q.Prices(ctx, models.PriceSeriesRequest{Start: "2020-01-11", End: "2020-01-20"})
	require.NoError(t, err)
	assert.Equal(t, 10, s.Len())

	_, err = q.Prices(ctx, models.PriceSeriesRequest{Start: "2020-02-01", End: "2020-01-01"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestQueryService_EventsAndTypes(t *testing.T) {
	events := []models.Event{
		{ID: "1", Name: "War", Date: day0.AddDate(0, 0, 10), Type: models.EventGeopolitical, Severity: models.SeverityHigh},
		{ID: "2", Name: "Crisis", Date: day0.AddDate(0, 0, 40), Type: models.EventFinancial, Severity: models.SeverityMedium},
	}
	f := newFixture(shifted(9, 60, 30), events...)
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)
	ctx := context.Background()

	got, err := q.Events(ctx, models.EventsRequest{Types: []string{"Financial"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got, err = q.Events(ctx, models.EventsRequest{Types: []string{"all"}, End: "2020-01-20"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	got, err = q.Events(ctx, models.EventsRequest{Types: []string{"Policy"}})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Equal(t, models.EventTypes, q.EventTypes())
}

func TestQueryService_Stats(t *testing.T) {
	f := newFixture(shifted(10, 90, 45))
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)

	st, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90, st.RecordCount)
	assert.Equal(t, day0, st.DateRange.Start)
	assert.Equal(t, day0.AddDate(0, 0, 89), st.DateRange.End)
	assert.Equal(t, 0, st.GapCount)

	again, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestQueryService_EventImpact(t *testing.T) {
	event := models.Event{ID: "3", Name: "Embargo", Date: day0.AddDate(0, 0, 61), Type: models.EventPolicy, Severity: models.SeverityMedium}
	f := newFixture(shifted(11, 120, 60), event)
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)
	ctx := context.Background()

	_, err := q.EventImpact(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	resp, err := q.ChangePoints(ctx, models.ChangePointsRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ChangePoints)

	impact, err := q.EventImpact(ctx, resp.ChangePoints[0].ID)
	require.NoError(t, err)
	assert.Equal(t, resp.ChangePoints[0].ID, impact.ChangePoint.ID)
	assert.Equal(t, models.TemporalCaveat, impact.Caveat)
	assert.NotNil(t, impact.Links)
}

func TestQueryService_EventPriceImpact(t *testing.T) {
	prices := make([]float64, 41)
	for i := range prices {
		switch {
		case i < 20:
			prices[i] = 50
		case i == 20:
			prices[i] = 55
		default:
			prices[i] = 60
		}
	}
	event := models.Event{ID: "9", Name: "Cut", Date: day0.AddDate(0, 0, 20), Type: models.EventPolicy, Severity: models.SeverityHigh}
	f := newFixture(prices, event)
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)
	ctx := context.Background()

	impact, err := q.EventPriceImpact(ctx, models.EventPriceImpactRequest{ID: "9", WindowDays: 10})
	require.NoError(t, err)
	require.NotNil(t, impact.PriceBefore)
	require.NotNil(t, impact.PriceAfter)
	require.NotNil(t, impact.PriceChangePct)
	assert.InDelta(t, 50, *impact.PriceBefore, 1e-9)
	assert.InDelta(t, 60, *impact.PriceAfter, 1e-9)
	assert.InDelta(t, 20, *impact.PriceChangePct, 1e-9)
	require.Len(t, impact.DataPoints, 21)
	assert.Equal(t, -10, impact.DataPoints[0].DaysFromEvent)
	assert.Equal(t, 0, impact.DataPoints[10].DaysFromEvent)

	_, err = q.EventPriceImpact(ctx, models.EventPriceImpactRequest{ID: "404", WindowDays: 10})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryService_ValidationAndStatus(t *testing.T) {
	f := newFixture(nil)
	recs := records([]float64{50, 51, 52})
	recs = append(recs, models.RawRecord{Line: 9, Date: "2020-01-02", Price: "53"})
	f.prices.set(recs)
	f.dataset = NewDatasetService(f.prices, []string{"2006-01-02"}, true, time.Minute, nil)
	f.runner = NewRunner(f.dataset, f.events, f.store)
	q := NewQueryService(testConfig(t), f.dataset, f.events, f.store, f.runner)
	ctx := context.Background()

	v, err := q.Validation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, v.Total)
	assert.Equal(t, 2, v.Accepted)
	assert.Equal(t, 1, v.Rejected)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "duplicate date 2020-01-02")

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 2, st.PriceCount)
	assert.Empty(t, st.Fingerprint)
}

func TestScheduler_OneQueuedRunPerFingerprint(t *testing.T) {
	f := newFixture(shifted(12, 100, 50))
	cfg := testConfig(t)
	ctx := context.Background()
	locks := cache.NewMemoryCache()
	t.Cleanup(func() { _ = locks.Close() })
	fq := &fakeQueue{}
	s := NewScheduler(f.runner, fq, locks, nil)

	_, fp, err := f.runner.Resolve(ctx, cfg)
	require.NoError(t, err)

	ok, err := s.Schedule(ctx, cfg, fp)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Schedule(ctx, cfg, fp)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, fq.payloads, 1)

	require.NoError(t, s.Job().Handle(ctx, fq.payloads[0]))
	_, err = f.store.Get(ctx, fp)
	require.NoError(t, err)

	ok, err = s.Schedule(ctx, cfg, fp)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released after the run")
}

func TestRefreshHandler_InvalidatesAndWarms(t *testing.T) {
	f := newFixture(shifted(13, 60, 30))
	sched := &fakeScheduler{}
	cfg := testConfig(t)
	h := NewRefreshHandler("brent.refresh", cfg, f.dataset, f.runner, sched, nil, nil)
	ctx := context.Background()

	_, err := f.dataset.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "brent.refresh", h.Topic())

	require.NoError(t, h.Handle(ctx, []byte(`{"source":"clickhouse"}`)))
	_, err = f.dataset.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.prices.calls.Load())
	assert.Empty(t, sched.calls)

	require.NoError(t, h.Handle(ctx, []byte(`{"source":"clickhouse","warm":true}`)))
	assert.Len(t, sched.calls, 1)

	err = h.Handle(ctx, []byte(`not json`))
	assert.Error(t, err)
}

func TestRunStatus(t *testing.T) {
	cases := []struct {
		name string
		det  models.Detection
		want models.RunStatus
	}{
		{"insufficient", models.Detection{Reason: "short"}, models.StatusInsufficientData},
		{"none", models.Detection{Reliable: true}, models.StatusNoChangePoints},
		{"unreliable", models.Detection{ChangePoints: make([]models.ChangePointPosterior, 1)}, models.StatusLowConfidence},
		{"ok", models.Detection{ChangePoints: make([]models.ChangePointPosterior, 2), Reliable: true}, models.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, runStatus(tc.det))
		})
	}
}
