package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	svccache "BrentBreaks/internal/service/cache"
	"BrentBreaks/internal/services/loader"
	xlogger "BrentBreaks/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const datasetKey = "dataset"

// Dataset is one validated load of the price source.
type Dataset struct {
	Series     models.Series
	Report     *models.ValidationReport
	SeriesHash string
	LoadedAt   time.Time
}

// layoutDeclarer is implemented by sources that know the layout of their
// dates. The declaration wins over the configured layouts.
type layoutDeclarer interface {
	DateLayouts() []string
}

// DatasetService loads and validates the price series and keeps the result
// for a short TTL so queries and runs share one load.
type DatasetService struct {
	prices       domrepo.PriceSource
	layouts      []string
	allowPartial bool
	ttl          time.Duration
	cache        *svccache.TTLCache[*Dataset]
	group        singleflight.Group
	l            *xlogger.Logger
}

func NewDatasetService(prices domrepo.PriceSource, layouts []string, allowPartial bool, ttl time.Duration, l *xlogger.Logger) *DatasetService {
	if l == nil {
		l = xlogger.Nop()
	}
	if d, ok := prices.(layoutDeclarer); ok && len(d.DateLayouts()) > 0 {
		layouts = d.DateLayouts()
	}
	return &DatasetService{
		prices:       prices,
		layouts:      layouts,
		allowPartial: allowPartial,
		ttl:          ttl,
		cache:        svccache.NewTTLCache[*Dataset](),
		l:            l,
	}
}

// Load returns the cached dataset or loads it once for all concurrent callers.
func (s *DatasetService) Load(ctx context.Context) (*Dataset, error) {
	if ds, ok := s.cache.Get(datasetKey); ok {
		return ds, nil
	}
	v, err, _ := s.group.Do(datasetKey, func() (interface{}, error) {
		if ds, ok := s.cache.Get(datasetKey); ok {
			return ds, nil
		}
		ds, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(datasetKey, ds, s.ttl)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dataset), nil
}

// Invalidate drops the cached dataset; the next Load re-reads the source.
func (s *DatasetService) Invalidate() {
	s.cache.Purge()
	s.l.Info("dataset cache invalidated")
}

func (s *DatasetService) load(ctx context.Context) (*Dataset, error) {
	start := time.Now()
	records, err := s.prices.Prices(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	res := loader.New(
		loader.WithLayouts(s.layouts...),
		loader.WithAllowPartial(s.allowPartial),
		loader.WithLogger(s.l),
	).Load(records)

	ds := &Dataset{
		Series:     res.Series,
		Report:     res.Report,
		SeriesHash: SeriesHash(res.Series),
		LoadedAt:   time.Now().UTC(),
	}
	s.l.Info("dataset loaded",
		xlogger.Int("records", len(records)),
		xlogger.Int("accepted", ds.Series.Len()),
		xlogger.Int("rejected", res.Report.Rejected()),
		xlogger.String("series_hash", ds.SeriesHash[:12]),
		xlogger.Duration("duration_ms", time.Since(start)))
	return ds, nil
}

// SeriesHash identifies the content of a series independent of its source.
func SeriesHash(s models.Series) string {
	h := sha256.New()
	buf := make([]byte, 0, 32)
	for _, p := range s.Points {
		buf = p.Date.AppendFormat(buf[:0], "2006-01-02")
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Price, 'g', -1, 64)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
