// Package chart is the chart service: it turns uploaded workbooks into
// datasets and computes indicator overlays for one symbol at a time.
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockchart/internal/cache"
	"stockchart/internal/indicator"
	"stockchart/internal/logger"
	"stockchart/internal/metrics"
	"stockchart/internal/model"
	"stockchart/internal/prep"
	"stockchart/internal/series"
)

var (
	// ErrDatasetNotFound is returned for keys neither cached nor stored.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrEmptyUpload is returned for a zero-byte upload.
	ErrEmptyUpload = errors.New("empty upload")

	// ErrInvalidWorkbook wraps workbook parse failures.
	ErrInvalidWorkbook = errors.New("invalid workbook")

	// ErrInvalidRequest is returned for malformed chart requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// Config wires the service dependencies. Cache and Store are required.
type Config struct {
	Cache    model.DatasetCache
	Store    model.DatasetStore
	Registry *indicator.Registry // nil means indicator.NewRegistry()
	Metrics  *metrics.Metrics    // nil means metrics on a private registry
	Workers  int                 // concurrent indicator computations; <1 means 1
	Prep     prep.Options        // zero value means prep.DefaultOptions()
	// Preset is computed for requests that omit the indicator list.
	Preset []IndicatorRequest
	Now    func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	cache   model.DatasetCache
	store   model.DatasetStore
	reg     *indicator.Registry
	prom    *metrics.Metrics
	workers int
	opts    prep.Options
	preset  []IndicatorRequest
	now     func() time.Time
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	svc := &Service{
		cache:   cfg.Cache,
		store:   cfg.Store,
		reg:     cfg.Registry,
		prom:    cfg.Metrics,
		workers: cfg.Workers,
		opts:    cfg.Prep,
		preset:  cfg.Preset,
		now:     cfg.Now,
	}
	if svc.reg == nil {
		svc.reg = indicator.NewRegistry()
	}
	if svc.prom == nil {
		svc.prom = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if svc.workers < 1 {
		svc.workers = 1
	}
	if svc.opts == (prep.Options{}) {
		svc.opts = prep.DefaultOptions()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Registry returns the indicator registry the service computes with.
func (svc *Service) Registry() *indicator.Registry { return svc.reg }

// UploadResult describes a stored upload.
type UploadResult struct {
	Key     string `json:"key"`
	Source  string `json:"source"`
	Symbols int    `json:"symbols"`
	Dates   int    `json:"dates"`
	// Cached is true when identical bytes had been uploaded before and
	// parsing was skipped.
	Cached bool `json:"cached"`
}

// Upload prepares a workbook and stores it under the content hash of data.
// Identical bytes resolve to the existing dataset without re-parsing.
func (svc *Service) Upload(ctx context.Context, source string, data []byte) (UploadResult, error) {
	if len(data) == 0 {
		svc.prom.UploadsTotal.WithLabelValues("error").Inc()
		return UploadResult{}, ErrEmptyUpload
	}
	svc.prom.UploadBytes.Observe(float64(len(data)))
	key := cache.ContentKey(data)
	log := logger.FromContext(ctx).With("dataset", key)

	if ds, err := svc.lookup(ctx, key); err == nil {
		svc.prom.UploadsTotal.WithLabelValues("cached").Inc()
		log.Info("upload matched existing dataset", "source", source)
		return resultFor(ds, true), nil
	} else if !errors.Is(err, ErrDatasetNotFound) {
		svc.prom.UploadsTotal.WithLabelValues("error").Inc()
		return UploadResult{}, err
	}

	start := time.Now()
	ds, err := prep.ParseWorkbook(bytes.NewReader(data), svc.opts)
	svc.prom.PrepDur.Observe(time.Since(start).Seconds())
	if err != nil {
		svc.prom.UploadsTotal.WithLabelValues("error").Inc()
		return UploadResult{}, fmt.Errorf("%w: %w", ErrInvalidWorkbook, err)
	}
	ds.Key = key
	ds.Source = source
	ds.LoadedAt = svc.now().UTC()

	if err := svc.store.SaveDataset(ctx, ds); err != nil {
		svc.prom.UploadsTotal.WithLabelValues("error").Inc()
		return UploadResult{}, fmt.Errorf("save dataset: %w", err)
	}
	svc.fill(ctx, ds)

	svc.prom.UploadsTotal.WithLabelValues("new").Inc()
	log.Info("dataset prepared",
		"source", source,
		"symbols", len(ds.Symbols),
		"dates", len(ds.Prices.Dates),
		"prep_ms", time.Since(start).Milliseconds(),
	)
	return resultFor(ds, false), nil
}

func resultFor(ds *model.Dataset, cached bool) UploadResult {
	return UploadResult{
		Key:     ds.Key,
		Source:  ds.Source,
		Symbols: len(ds.Symbols),
		Dates:   len(ds.Prices.Dates),
		Cached:  cached,
	}
}

// Dataset returns the dataset stored under key.
func (svc *Service) Dataset(ctx context.Context, key string) (*model.Dataset, error) {
	return svc.lookup(ctx, key)
}

// lookup reads through the cache to the store. Cache failures are logged
// and treated as misses.
func (svc *Service) lookup(ctx context.Context, key string) (*model.Dataset, error) {
	ds, ok, err := svc.cache.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("dataset cache get failed", "dataset", key, "error", err)
	}
	if ok {
		svc.prom.CacheHits.WithLabelValues("cache").Inc()
		return ds, nil
	}
	svc.prom.CacheMisses.WithLabelValues("cache").Inc()

	ds, err = svc.store.LoadDataset(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", key, err)
	}
	if ds == nil {
		svc.prom.CacheMisses.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, key)
	}
	svc.prom.CacheHits.WithLabelValues("store").Inc()
	svc.fill(ctx, ds)
	return ds, nil
}

func (svc *Service) fill(ctx context.Context, ds *model.Dataset) {
	if err := svc.cache.Put(ctx, ds); err != nil {
		logger.FromContext(ctx).Warn("dataset cache put failed", "dataset", ds.Key, "error", err)
	}
	if m, ok := svc.cache.(interface{ Len() int }); ok {
		svc.prom.DatasetsLoaded.Set(float64(m.Len()))
	}
}

// Datasets lists stored datasets, newest first.
func (svc *Service) Datasets(ctx context.Context) ([]model.DatasetInfo, error) {
	infos, err := svc.store.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return infos, nil
}

// Symbols returns the symbol metadata of a dataset, in sheet order.
func (svc *Service) Symbols(ctx context.Context, key string) ([]model.SymbolInfo, error) {
	ds, err := svc.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return ds.Symbols, nil
}

// Symbol returns the metadata row for one code of a dataset.
func (svc *Service) Symbol(ctx context.Context, key, code string) (model.SymbolInfo, error) {
	ds, err := svc.lookup(ctx, key)
	if err != nil {
		return model.SymbolInfo{}, err
	}
	info, ok := ds.Symbol(code)
	if !ok {
		return model.SymbolInfo{}, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, code)
	}
	return info, nil
}

// Summary describes a dataset's coverage and composition.
type Summary struct {
	Key       string        `json:"key"`
	Source    string        `json:"source"`
	Symbols   int           `json:"symbols"`
	Dates     int           `json:"dates"`
	First     time.Time     `json:"first"`
	Last      time.Time     `json:"last"`
	Sectors   []model.Count `json:"sectors"`
	Exchanges []model.Count `json:"exchanges"`
}

// Summary returns dataset coverage plus symbol counts by sector and by
// exchange.
func (svc *Service) Summary(ctx context.Context, key string) (Summary, error) {
	ds, err := svc.lookup(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	first, last := ds.DateRange()
	return Summary{
		Key:       ds.Key,
		Source:    ds.Source,
		Symbols:   len(ds.Symbols),
		Dates:     len(ds.Prices.Dates),
		First:     first,
		Last:      last,
		Sectors:   model.CountBy(ds.Symbols, func(s model.SymbolInfo) string { return s.Sector }),
		Exchanges: model.CountBy(ds.Symbols, func(s model.SymbolInfo) string { return s.Exchange }),
	}, nil
}

// PriceSeries returns the prices of code between start and end inclusive,
// with missing values dropped. A zero start or end leaves that side open.
func (svc *Service) PriceSeries(ctx context.Context, key, code string, start, end time.Time) (*series.Series, error) {
	ds, err := svc.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	s, err := ds.Series(code)
	if err != nil {
		return nil, err
	}
	return s.SliceByDateRange(start, end).DropMissing(), nil
}

// IndicatorRequest selects one indicator and its parameters. Missing
// parameters take their defaults.
type IndicatorRequest struct {
	ID     string           `json:"id"`
	Params indicator.Params `json:"params,omitempty"`
}

// ChartRequest asks for a symbol's price line plus indicator overlays. A nil
// Indicators list means the service preset; an empty one means price only.
type ChartRequest struct {
	Dataset    string             `json:"dataset"`
	Symbol     string             `json:"symbol"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Indicators []IndicatorRequest `json:"indicators"`
}

// ChartResponse carries the price line and one result per requested
// indicator, in request order. Every output line is aligned with Price.
type ChartResponse struct {
	Dataset string
	Symbol  string
	Price   *series.Series
	Results []indicator.Result
}

// Compute validates every indicator request before running any of them,
// then computes them concurrently over the selected price range.
func (svc *Service) Compute(ctx context.Context, req ChartRequest) (*ChartResponse, error) {
	if req.Dataset == "" || req.Symbol == "" {
		return nil, fmt.Errorf("%w: dataset and symbol are required", ErrInvalidRequest)
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRequest,
			req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
	}

	if req.Indicators == nil {
		req.Indicators = svc.preset
	}
	resolved := make([]indicator.Params, len(req.Indicators))
	for i, ir := range req.Indicators {
		p, err := svc.reg.ValidateParameters(ir.ID, ir.Params)
		if err != nil {
			return nil, fmt.Errorf("indicator %d (%s): %w", i, ir.ID, err)
		}
		resolved[i] = p
	}

	price, err := svc.PriceSeries(ctx, req.Dataset, req.Symbol, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	results, err := svc.computeAll(ctx, price, req.Indicators, resolved)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("chart computed",
		"dataset", req.Dataset,
		"symbol", req.Symbol,
		"points", price.Len(),
		"indicators", len(results),
	)
	return &ChartResponse{
		Dataset: req.Dataset,
		Symbol:  req.Symbol,
		Price:   price,
		Results: results,
	}, nil
}

// computeAll runs the indicators on a bounded pool and keeps request order.
func (svc *Service) computeAll(ctx context.Context, price *series.Series, reqs []IndicatorRequest, params []indicator.Params) ([]indicator.Result, error) {
	results := make([]indicator.Result, len(reqs))
	errs := make([]error, len(reqs))

	sem := make(chan struct{}, svc.workers)
	var wg sync.WaitGroup
	for i := range reqs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			id := reqs[i].ID
			start := time.Now()
			res, err := svc.reg.Compute(id, price, params[i])
			if spec, lerr := svc.reg.Lookup(id); lerr == nil {
				id = spec.ID
			}
			svc.prom.ObserveCompute(id, time.Since(start), err)
			results[i], errs[i] = res, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("indicator %d (%s): %w", i, reqs[i].ID, err)
		}
	}
	return results, nil
}
