// Package chartapi exposes the chart service over HTTP and a websocket
// compute channel.
package chartapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"stockchart/internal/chart"
	"stockchart/internal/indicator"
	"stockchart/internal/logger"
	"stockchart/internal/metrics"
	"stockchart/internal/model"
)

// Options configures the HTTP surface.
type Options struct {
	MaxUploadBytes int64 // 0 means 32 MiB
	Metrics        *metrics.Metrics
	Health         http.Handler // served on /healthz when set
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Filename")
}

// NewHandler returns the full API: routes wrapped in the trace middleware.
func NewHandler(svc *chart.Service, opts Options) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, svc, opts)
	return withTrace(mux, opts.Metrics)
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, svc *chart.Service, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	h := &handlers{svc: svc, maxUpload: opts.MaxUploadBytes}

	mux.HandleFunc("/api/datasets", h.datasets)
	mux.HandleFunc("/api/symbols", h.symbols)
	mux.HandleFunc("/api/summary", h.summary)
	mux.HandleFunc("/api/series", h.series)
	mux.HandleFunc("/api/indicators", h.indicators)
	mux.HandleFunc("/api/compute", h.compute)
	mux.Handle("/ws", newWSHandler(svc, opts.Metrics))

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}
	if opts.Health != nil {
		mux.Handle("/healthz", opts.Health)
	}
}

type handlers struct {
	svc       *chart.Service
	maxUpload int64
}

// preflight sets CORS headers and handles OPTIONS. It reports whether the
// request method is one of allowed.
func preflight(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range allowed {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	return false
}

// GET lists stored datasets; POST uploads a workbook, either as a multipart
// "file" field or as the raw request body.
func (h *handlers) datasets(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodGet {
		infos, err := h.svc.Datasets(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if infos == nil {
			infos = []model.DatasetInfo{}
		}
		writeJSON(w, http.StatusOK, infos)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	source, data, err := readUpload(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.Upload(r.Context(), source, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return "", nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return hdr.Filename, data, err
	}

	source := r.Header.Get("X-Filename")
	if source == "" {
		source = r.URL.Query().Get("name")
	}
	if source == "" {
		source = "upload.xlsx"
	}
	data, err := io.ReadAll(r.Body)
	return source, data, err
}

func (h *handlers) symbols(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	if code := q.Get("symbol"); code != "" {
		info, err := h.svc.Symbol(r.Context(), q.Get("dataset"), code)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}
	syms, err := h.svc.Symbols(r.Context(), q.Get("dataset"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if syms == nil {
		syms = []model.SymbolInfo{}
	}
	writeJSON(w, http.StatusOK, syms)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	sum, err := h.svc.Summary(r.Context(), r.URL.Query().Get("dataset"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handlers) series(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	start, err := parseDate(q.Get("start"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, err := parseDate(q.Get("end"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s, err := h.svc.PriceSeries(r.Context(), q.Get("dataset"), q.Get("symbol"), start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSeriesOut(s))
}

func (h *handlers) indicators(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Registry().Specs())
}

func (h *handlers) compute(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid JSON"))
		return
	}
	out, err := runCompute(r.Context(), h.svc, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func runCompute(ctx context.Context, svc *chart.Service, req ComputeRequest) (ChartOut, error) {
	creq, err := req.toChart()
	if err != nil {
		return ChartOut{}, err
	}
	resp, err := svc.Compute(ctx, creq)
	if err != nil {
		return ChartOut{}, err
	}
	return newChartOut(resp, svc.Registry()), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorOut{Error: err.Error(), TraceID: logger.TraceID(r.Context())})
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", append(logger.LogWithTrace(r.Context()),
			"path", r.URL.Path, "error", err)...)
	}
	writeError(w, r, status, err)
}

func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, chart.ErrDatasetNotFound), errors.Is(err, model.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, chart.ErrInvalidWorkbook):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chart.ErrInvalidRequest),
		errors.Is(err, chart.ErrEmptyUpload),
		errors.Is(err, indicator.ErrInvalidParameter),
		errors.Is(err, indicator.ErrUnknownIndicator),
		errors.Is(err, errBadDate),
		errors.Is(err, http.ErrMissingFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
