package chartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"stockchart/internal/cache"
	"stockchart/internal/chart"
	"stockchart/internal/metrics"
	"stockchart/internal/model"
)

type memStore struct{ data map[string]*model.Dataset }

func (m *memStore) SaveDataset(_ context.Context, ds *model.Dataset) error {
	m.data[ds.Key] = ds
	return nil
}

func (m *memStore) LoadDataset(_ context.Context, key string) (*model.Dataset, error) {
	return m.data[key], nil
}

func (m *memStore) ListDatasets(_ context.Context) ([]model.DatasetInfo, error) {
	var out []model.DatasetInfo
	for _, ds := range m.data {
		out = append(out, model.DatasetInfo{Key: ds.Key, Source: ds.Source, Symbols: len(ds.Symbols), Dates: len(ds.Prices.Dates)})
	}
	return out, nil
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	dates := []time.Time{day(1), day(2), day(3), day(4), day(5)}
	ds := &model.Dataset{
		Key:    "demo",
		Source: "demo.xlsx",
		Symbols: []model.SymbolInfo{
			{Name: "Vietcombank", Code: "VCB", Exchange: "HOSE", Sector: "Banks"},
		},
		Prices: model.PriceTable{
			Dates:   dates,
			Codes:   []string{"VCB"},
			Columns: map[string]model.Column{"VCB": {10, 11, math.NaN(), 13, 14}},
		},
	}
	store := &memStore{data: map[string]*model.Dataset{"demo": ds}}
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	svc := chart.NewService(chart.Config{Cache: cache.NewMemory(2), Store: store, Metrics: prom, Workers: 2})
	return NewHandler(svc, Options{MaxUploadBytes: 1 << 10, Metrics: prom, Health: metrics.NewHealthStatus()})
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ─────────────────────────────────────────────────────────────
// REST
// ─────────────────────────────────────────────────────────────

func TestCompute_NullsForWarmup(t *testing.T) {
	h := newTestAPI(t)
	body := `{"dataset":"demo","symbol":"VCB","start":"2024-01-01","end":"2024-01-05",
		"indicators":[{"id":"SMA","params":{"length":2}},{"id":"RSI","params":{"length":2}}]}`
	rec := do(t, h, http.MethodPost, "/api/compute", []byte(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	var out struct {
		Dates      []string   `json:"dates"`
		Price      []*float64 `json:"price"`
		Indicators []struct {
			ID      string `json:"id"`
			Overlay bool   `json:"overlay"`
			Levels  []struct {
				Value float64 `json:"value"`
			} `json:"levels"`
			Lines []struct {
				Name   string     `json:"name"`
				Values []*float64 `json:"values"`
			} `json:"lines"`
		} `json:"indicators"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Dates) != 4 || out.Dates[2] != "2024-01-04" {
		t.Fatalf("dates = %v (missing day should be dropped)", out.Dates)
	}
	sma := out.Indicators[0]
	if sma.ID != "SMA" || !sma.Overlay {
		t.Errorf("unexpected SMA header %+v", sma)
	}
	vals := sma.Lines[0].Values
	if len(vals) != 4 || vals[0] != nil || vals[1] == nil || *vals[1] != 10.5 {
		t.Errorf("SMA values = %v", vals)
	}
	rsi := out.Indicators[1]
	if rsi.Overlay || len(rsi.Levels) != 2 {
		t.Errorf("RSI should be a separate panel with two levels: %+v", rsi)
	}
}

func TestCompute_ErrorStatus(t *testing.T) {
	h := newTestAPI(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad param", `{"dataset":"demo","symbol":"VCB","indicators":[{"id":"SMA","params":{"length":0}}]}`, http.StatusBadRequest},
		{"unknown indicator", `{"dataset":"demo","symbol":"VCB","indicators":[{"id":"Ichimoku"}]}`, http.StatusBadRequest},
		{"bad date", `{"dataset":"demo","symbol":"VCB","start":"yesterday"}`, http.StatusBadRequest},
		{"unknown dataset", `{"dataset":"nope","symbol":"VCB"}`, http.StatusNotFound},
		{"unknown symbol", `{"dataset":"demo","symbol":"ZZZ"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/compute", []byte(tt.body))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			var e errorOut
			if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
				t.Errorf("expected JSON error body, got %q", rec.Body.String())
			}
		})
	}
}

func TestIndicators_List(t *testing.T) {
	h := newTestAPI(t)
	rec := do(t, h, http.MethodGet, "/api/indicators", nil)
	var specs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &specs); err != nil {
		t.Fatal(err)
	}
	want := []string{"SMA", "EMA", "Bollinger", "MACD", "RSI", "Stochastic"}
	if len(specs) != len(want) {
		t.Fatalf("got %d specs", len(specs))
	}
	for i := range want {
		if specs[i].ID != want[i] {
			t.Errorf("spec %d = %s, want %s", i, specs[i].ID, want[i])
		}
	}
}

func TestSeriesSymbolsSummary(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/api/series?dataset=demo&symbol=VCB&start=2024-01-02", nil)
	var s struct {
		Values []*float64 `json:"values"`
	}
	json.Unmarshal(rec.Body.Bytes(), &s)
	if rec.Code != http.StatusOK || len(s.Values) != 3 {
		t.Errorf("series: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/symbols?dataset=demo", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"code":"VCB"`) {
		t.Errorf("symbols: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/symbols?dataset=demo&symbol=VCB", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sector":"Banks"`) {
		t.Errorf("symbol: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/symbols?dataset=demo&symbol=XYZ", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol: status %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/summary?dataset=demo", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"label":"Banks"`) {
		t.Errorf("summary: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/summary?dataset=missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing summary: status %d", rec.Code)
	}
}

func TestDatasets_UploadErrors(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/datasets", []byte("not a workbook"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("garbage upload: status %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/datasets", bytes.Repeat([]byte("x"), 2<<10))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload: status %d", rec.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/datasets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("multipart without file: status %d", rr.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/datasets", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"key":"demo"`) {
		t.Errorf("list: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestMethodsAndCORS(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodDelete, "/api/compute", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE: status %d", rec.Code)
	}
	rec = do(t, h, http.MethodOptions, "/api/compute", nil)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: status %d headers %v", rec.Code, rec.Header())
	}
}

func TestMetricsAndHealth(t *testing.T) {
	h := newTestAPI(t)
	do(t, h, http.MethodGet, "/api/indicators", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `chart_http_requests_total{code="200",route="/api/indicators"} 1`) {
		t.Errorf("request counter missing:\n%s", rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status %d", rec.Code)
	}
}

// ─────────────────────────────────────────────────────────────
// Websocket
// ─────────────────────────────────────────────────────────────

func TestWebsocket_Compute(t *testing.T) {
	srv := httptest.NewServer(newTestAPI(t))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	send := func(v any) wsOut {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
		var out wsOut
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		return out
	}

	out := send(map[string]any{"type": "PING", "id": "p1"})
	if out.Type != "PONG" || out.ID != "p1" {
		t.Errorf("ping reply = %+v", out)
	}

	out = send(map[string]any{
		"type": "COMPUTE",
		"id":   "c1",
		"request": map[string]any{
			"dataset":    "demo",
			"symbol":     "VCB",
			"indicators": []map[string]any{{"id": "EMA", "params": map[string]any{"length": 3}}},
		},
	})
	if out.Type != "RESULT" || out.ID != "c1" || out.Data == nil {
		t.Fatalf("compute reply = %+v", out)
	}
	if len(out.Data.Dates) != 4 || len(out.Data.Indicators) != 1 || len(out.Data.Indicators[0].Lines[0].Values) != 4 {
		t.Errorf("unexpected compute payload %+v", out.Data)
	}

	out = send(map[string]any{"type": "COMPUTE", "id": "c2", "request": map[string]any{"dataset": "demo", "symbol": "ZZZ"}})
	if out.Type != "ERROR" || out.Status != http.StatusNotFound {
		t.Errorf("error reply = %+v", out)
	}
}

func TestWebsocket_WriterDrainsBeforeClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		// the session context is already gone; queued replies must still go out
		_, cancel := context.WithCancel(r.Context())
		cancel()
		c := &wsClient{conn: conn, send: make(chan wsOut, 4), cancel: cancel}
		c.send <- wsOut{Type: "PONG", ID: "a"}
		c.send <- wsOut{Type: "PONG", ID: "b"}
		close(c.send)
		c.writePump()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for _, id := range []string{"a", "b"} {
		var out wsOut
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		if out.ID != id {
			t.Errorf("got reply %q, want %q", out.ID, id)
		}
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
		t.Errorf("expected close frame after queued replies, got %v", err)
	}
}
