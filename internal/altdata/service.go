package altdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wonny/altquant/internal/altdata/aligner"
	"github.com/wonny/altquant/internal/altdata/cleaner"
	"github.com/wonny/altquant/internal/altdata/normalizer"
	"github.com/wonny/altquant/internal/altdata/quality"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/pkg/logger"
	"github.com/wonny/altquant/pkg/metrics"
	"github.com/wonny/altquant/pkg/redis"
	"github.com/wonny/altquant/pkg/validate"
)

// Pipeline stages, used in IndicatorFailure.Stage and metrics labels
const (
	StageFetch     = "fetch"
	StageClean     = "clean"
	StageAlign     = "align"
	StageNormalize = "normalize"
)

// Config holds the pipeline configuration
type Config struct {
	Cleaner    cleaner.Config    `yaml:"cleaner" json:"cleaner"`
	Aligner    aligner.Config    `yaml:"aligner" json:"aligner"`
	Quality    quality.Config    `yaml:"quality" json:"quality"`
	Normalize  normalizer.Method `yaml:"normalize" json:"normalize" default:"zscore" validate:"oneof=zscore minmax logreturn"`
	NormWindow int               `yaml:"norm_window" json:"norm_window" default:"60" validate:"gte=0"`

	FetchConcurrency int           `yaml:"fetch_concurrency" json:"fetch_concurrency" default:"4" validate:"gte=1"`
	LookbackDays     int           `yaml:"lookback_days" json:"lookback_days" default:"120" validate:"gte=0"`
	CacheTTL         time.Duration `yaml:"cache_ttl" json:"cache_ttl" default:"1h"`
}

// Service runs fetch → clean → align → normalize → score per indicator
// and merges the results with price onto one trading-date index
// ⭐ SSOT: 대체 데이터 파이프라인 진입점
type Service struct {
	cfg        Config
	prices     contracts.PriceFetcher
	indicators contracts.IndicatorFetcher
	cache      *redis.Cache
	metrics    *metrics.Recorder
	logger     *logger.Logger

	cleaner    *cleaner.Cleaner
	aligner    *aligner.Aligner
	normalizer *normalizer.Normalizer
	scorer     *quality.Scorer

	inflight singleflight.Group
}

// NewService wires the pipeline. cache and rec may be nil.
func NewService(cfg Config, prices contracts.PriceFetcher, indicators contracts.IndicatorFetcher,
	cache *redis.Cache, rec *metrics.Recorder, log *logger.Logger) (*Service, error) {
	if err := validate.Struct(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("altdata config: %w", err)
	}

	cl, err := cleaner.New(cfg.Cleaner)
	if err != nil {
		return nil, err
	}
	al, err := aligner.New(cfg.Aligner)
	if err != nil {
		return nil, err
	}
	nm, err := normalizer.New(normalizer.Config{Method: cfg.Normalize, Window: cfg.NormWindow})
	if err != nil {
		return nil, err
	}
	sc, err := quality.NewScorer(cfg.Quality)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		prices:     prices,
		indicators: indicators,
		cache:      cache,
		metrics:    rec,
		logger:     log.WithComponent("altdata"),
		cleaner:    cl,
		aligner:    al,
		normalizer: nm,
		scorer:     sc,
	}, nil
}

// built is the per-indicator pipeline output
type built struct {
	id         string
	aligned    *contracts.IndicatorSeries
	lagged     map[int]*contracts.IndicatorSeries
	normalized *contracts.IndicatorSeries
	quality    contracts.QualityMetrics
	warning    *contracts.StaleDataWarning
	failure    *contracts.IndicatorFailure
}

// GetAlignedData builds the merged dataset for symbol over r.
// When some indicators fail it returns the dataset of the rest together
// with a *PartialDataError. Look-ahead violations and a corrupt calendar abort.
func (s *Service) GetAlignedData(ctx context.Context, symbol string, indicatorIDs []string, r contracts.DateRange) (*contracts.AlignedDataset, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	price, calendar, err := s.loadPrice(ctx, symbol, r)
	if err != nil {
		return nil, err
	}

	ids := dedupe(indicatorIDs)
	results := make([]built, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			b, err := s.buildIndicator(gctx, id, r, calendar)
			if err != nil {
				return err
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds, partial, err := s.merge(symbol, price, calendar, results)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"indicators": len(ids),
		"failed":     countFailures(results),
		"rows":       ds.Len(),
		"warnings":   len(ds.Warnings),
		"duration":   time.Since(started).String(),
	}).Info("Aligned dataset built")

	if partial != nil {
		return ds, partial
	}
	return ds, nil
}

// loadPrice fetches the close series; its trading days are the canonical calendar
func (s *Service) loadPrice(ctx context.Context, symbol string, r contracts.DateRange) (*contracts.IndicatorSeries, []time.Time, error) {
	var raw contracts.IndicatorSeries
	err := s.cached(ctx, redis.PriceKey(symbol, r.Start, r.End), &raw, func() (*contracts.IndicatorSeries, error) {
		return s.prices.FetchPrices(ctx, symbol, r)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch prices %s: %w", symbol, err)
	}

	points := make([]contracts.Observation, 0, raw.Len())
	calendar := make([]time.Time, 0, raw.Len())
	for _, p := range raw.Points {
		if p.Missing() || !r.Contains(p.Time) {
			continue
		}
		day := contracts.Day(p.Time)
		points = append(points, contracts.Observation{Time: day, Value: p.Value, Released: day, AsOf: day})
		calendar = append(calendar, day)
	}
	if len(calendar) == 0 {
		return nil, nil, fmt.Errorf("prices %s in %s: %w", symbol, r.Key(), contracts.ErrInsufficientData)
	}
	if err := aligner.ValidateCalendar(calendar); err != nil {
		return nil, nil, err
	}

	price := &contracts.IndicatorSeries{
		ID:        contracts.PriceSeriesName,
		Frequency: contracts.FrequencyDaily,
		Source:    raw.Source,
		Points:    points,
	}
	return price, calendar, nil
}

// buildIndicator returns a non-nil error only for fatal invariant breaches;
// everything else is recorded in built.failure
func (s *Service) buildIndicator(ctx context.Context, id string, r contracts.DateRange, calendar []time.Time) (built, error) {
	b := built{id: id}
	fail := func(stage string, err error) (built, error) {
		if contracts.IsFatal(err) {
			return b, err
		}
		s.metrics.RecordIndicatorFailure(id, stage)
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"indicator": id,
			"stage":     stage,
		}).Warn("Indicator excluded from dataset")
		b.failure = &contracts.IndicatorFailure{IndicatorID: id, Stage: stage, Reason: err.Error(), Err: err}
		return b, nil
	}

	fetchRange := contracts.DateRange{Start: r.Start.AddDate(0, 0, -s.cfg.LookbackDays), End: r.End}
	raw, err := s.fetchIndicator(ctx, id, fetchRange)
	if err != nil {
		return fail(StageFetch, err)
	}

	cleaned, err := s.cleaner.Clean(raw)
	if err != nil {
		return fail(StageClean, err)
	}

	aligned, err := s.aligner.Align(cleaned.Series, calendar)
	if err != nil {
		return fail(StageAlign, err)
	}
	if aligned.Series.Len() == 0 {
		return fail(StageAlign, fmt.Errorf("%s: no value released within %s: %w", id, r.Key(), contracts.ErrInsufficientData))
	}

	norm, err := s.normalizer.Normalize(aligned.Series)
	if err != nil {
		return fail(StageNormalize, err)
	}

	asOf := r.End.Add(24*time.Hour - time.Nanosecond)
	if now := time.Now(); now.Before(asOf) {
		asOf = now
	}
	q, warn := s.scorer.Score(quality.Input{
		Series:         cleaned.Series,
		ObservedPoints: cleaned.Observed,
		Covered:        &fetchRange,
		AsOf:           asOf,
	})
	s.metrics.RecordQuality(id, q.Overall)
	if warn != nil {
		s.logger.WithFields(map[string]interface{}{
			"indicator": id,
			"overall":   q.Overall,
			"grade":     q.Grade,
		}).Warn("Stale indicator data")
	}

	b.aligned = aligned.Series
	b.lagged = aligned.Lagged
	b.normalized = norm.Series
	b.quality = q
	b.warning = warn
	return b, nil
}

// fetchIndicator collapses concurrent fetches of the same indicator/window
// into one upstream call
func (s *Service) fetchIndicator(ctx context.Context, id string, r contracts.DateRange) (*contracts.IndicatorSeries, error) {
	key := redis.SeriesKey(id, r.Start, r.End)
	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		var raw contracts.IndicatorSeries
		err := s.cached(ctx, key, &raw, func() (*contracts.IndicatorSeries, error) {
			return s.indicators.FetchIndicator(ctx, id, r)
		})
		if err != nil {
			return nil, err
		}
		if err := raw.Validate(); err != nil {
			return nil, err
		}
		return &raw, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not share the slice
	return v.(*contracts.IndicatorSeries).Clone(), nil
}

func (s *Service) cached(ctx context.Context, key string, dest *contracts.IndicatorSeries, fetch func() (*contracts.IndicatorSeries, error)) error {
	if s.cache == nil {
		series, err := fetch()
		if err != nil {
			return err
		}
		*dest = *series.Clone()
		return nil
	}
	return s.cache.GetOrSet(ctx, key, dest, s.cfg.CacheTTL, func() (interface{}, error) {
		return fetch()
	})
}

// merge restricts every successful series to the common date suffix
func (s *Service) merge(symbol string, price *contracts.IndicatorSeries, calendar []time.Time, results []built) (*contracts.AlignedDataset, *contracts.PartialDataError, error) {
	start := 0
	for _, b := range results {
		if b.failure != nil {
			continue
		}
		start = maxInt(start, firstIndex(calendar, b.aligned))
		for _, lagged := range b.lagged {
			if lagged.Len() == 0 {
				continue
			}
			start = maxInt(start, firstIndex(calendar, lagged))
		}
	}
	if start >= len(calendar) {
		return nil, nil, fmt.Errorf("no common trading days: %w", contracts.ErrInsufficientData)
	}
	index := calendar[start:]

	series := map[string]*contracts.IndicatorSeries{
		contracts.PriceSeriesName: suffix(price, index),
	}
	normalized := make(map[string]*contracts.IndicatorSeries)
	qualities := make(map[string]contracts.QualityMetrics)
	var warnings []contracts.StaleDataWarning
	partial := &contracts.PartialDataError{}

	for _, b := range results {
		if b.failure != nil {
			partial.Failures = append(partial.Failures, *b.failure)
			continue
		}
		series[b.id] = suffix(b.aligned, index)
		normalized[b.id] = suffix(b.normalized, index)
		for k, lagged := range b.lagged {
			if lagged.Len() == 0 {
				continue
			}
			series[aligner.LaggedID(b.id, k)] = suffix(lagged, index)
		}
		qualities[b.id] = b.quality
		if b.warning != nil {
			warnings = append(warnings, *b.warning)
		}
		partial.Succeeded = append(partial.Succeeded, b.id)
	}

	for name, ser := range series {
		if err := aligner.VerifyNoLookAhead("altdata", ser); err != nil {
			return nil, nil, fmt.Errorf("merge %s: %w", name, err)
		}
	}

	ds, err := contracts.NewAlignedDataset(symbol, index, series, normalized)
	if err != nil {
		return nil, nil, err
	}
	ds.Quality = qualities
	ds.Warnings = warnings

	if len(partial.Failures) == 0 {
		return ds, nil, nil
	}
	sort.Slice(partial.Failures, func(i, j int) bool {
		return partial.Failures[i].IndicatorID < partial.Failures[j].IndicatorID
	})
	return ds, partial, nil
}

// QualityReport is a standalone re-score of one indicator
type QualityReport struct {
	IndicatorID string                      `json:"indicator_id"`
	Current     contracts.QualityMetrics    `json:"current"`
	Previous    *contracts.QualityMetrics   `json:"previous,omitempty"`
	Warning     *contracts.StaleDataWarning `json:"warning,omitempty"`
}

// RefreshQuality re-scores an indicator over r. On a stale result the
// previous snapshot is returned for fallback and is not overwritten.
func (s *Service) RefreshQuality(ctx context.Context, id string, r contracts.DateRange) (*QualityReport, error) {
	raw, err := s.fetchIndicator(ctx, id, r)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	cleaned, err := s.cleaner.Clean(raw)
	if err != nil {
		return nil, fmt.Errorf("clean %s: %w", id, err)
	}

	q, warn := s.scorer.Score(quality.Input{Series: cleaned.Series, ObservedPoints: cleaned.Observed, Covered: &r})
	s.metrics.RecordQuality(id, q.Overall)
	report := &QualityReport{IndicatorID: id, Current: q, Warning: warn}

	if s.cache == nil {
		return report, nil
	}
	var prev contracts.QualityMetrics
	found, err := s.cache.Get(ctx, redis.QualityKey(id), &prev)
	if err != nil {
		s.logger.WithError(err).WithField("indicator", id).Warn("Failed to read quality snapshot")
	}
	if found {
		report.Previous = &prev
	}
	if warn == nil {
		if err := s.cache.Set(ctx, redis.QualityKey(id), q, redis.TTLDaily*7); err != nil {
			s.logger.WithError(err).Warn("Failed to store quality snapshot")
		}
	}
	return report, nil
}

func firstIndex(calendar []time.Time, s *contracts.IndicatorSeries) int {
	if s.Len() == 0 {
		return len(calendar)
	}
	first := s.Points[0].Time
	return sort.Search(len(calendar), func(i int) bool { return !calendar[i].Before(first) })
}

// suffix returns the tail of s starting at index[0]; s must cover index
func suffix(s *contracts.IndicatorSeries, index []time.Time) *contracts.IndicatorSeries {
	offset := 0
	for offset < s.Len() && s.Points[offset].Time.Before(index[0]) {
		offset++
	}
	end := offset + len(index)
	if end > s.Len() {
		end = s.Len()
	}
	return s.Derive(s.Points[offset:end])
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == contracts.PriceSeriesName || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func countFailures(results []built) int {
	n := 0
	for _, b := range results {
		if b.failure != nil {
			n++
		}
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AsPartial extracts a *PartialDataError
func AsPartial(err error) (*contracts.PartialDataError, bool) {
	var partial *contracts.PartialDataError
	ok := errors.As(err, &partial)
	return partial, ok
}
