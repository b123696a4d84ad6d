package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/altquant/internal/api/handlers"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/optimizer"
	"github.com/wonny/altquant/internal/research"
	"github.com/wonny/altquant/internal/strategyconfig"
	"github.com/wonny/altquant/pkg/logger"
)

type stubData struct {
	ds  *contracts.AlignedDataset
	err error
}

func (s *stubData) GetAlignedData(context.Context, string, []string, contracts.DateRange) (*contracts.AlignedDataset, error) {
	return s.ds, s.err
}

func dataset(t *testing.T) *contracts.AlignedDataset {
	t.Helper()
	var index []time.Time
	for d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC); len(index) < 120; d = d.AddDate(0, 0, 1) {
		if contracts.IsWeekday(d) {
			index = append(index, d)
		}
	}
	points := make([]contracts.Observation, len(index))
	for i, day := range index {
		points[i] = contracts.Observation{Time: day, Value: 100 + 5*math.Sin(float64(i)/3), Released: day}
	}
	points[3].Value = math.NaN()
	price := &contracts.IndicatorSeries{ID: contracts.PriceSeriesName, Frequency: contracts.FrequencyDaily, Points: points}
	ds, err := contracts.NewAlignedDataset("005930", index, map[string]*contracts.IndicatorSeries{contracts.PriceSeriesName: price}, nil)
	require.NoError(t, err)
	return ds
}

func newTestRouter(t *testing.T, data research.DataSource) (http.Handler, *research.Service) {
	t.Helper()
	f, err := strategyconfig.Parse([]byte(`
version: "1"
presets:
  - name: quick
    strategy: cumret_price
    grid:
      - {name: window, min: 5, max: 15, step: 5}
`))
	require.NoError(t, err)
	catalog, err := strategyconfig.NewCatalog(f)
	require.NoError(t, err)

	svc := research.NewService(research.Config{
		Optimizer: optimizer.Config{DefaultWorkers: 2, MaxCombinations: 1000},
	}, data, optimizer.NewMemoryStore(), catalog, nil, logger.Nop())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	return NewRouter(handlers.NewResearchHandler(svc, logger.Nop()), false, logger.Nop()), svc
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &stubData{})
	rec, body := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHealth_DegradedDependency(t *testing.T) {
	_, svc := newTestRouter(t, &stubData{})
	router := NewRouter(handlers.NewResearchHandler(svc, logger.Nop()), false, logger.Nop(),
		HealthCheck{Name: "redis", Ping: func(ctx context.Context) error { return nil }},
		HealthCheck{Name: "postgres", Ping: func(ctx context.Context) error { return errors.New("connection refused") }},
	)

	rec, body := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]interface{})
	assert.Equal(t, "ok", deps["redis"])
	assert.Equal(t, "connection refused", deps["postgres"])
}

func TestGetAlignedData(t *testing.T) {
	partial := &contracts.PartialDataError{Failures: []contracts.IndicatorFailure{{IndicatorID: "card_spend", Stage: "fetch", Reason: "timeout"}}}
	router, _ := newTestRouter(t, &stubData{ds: dataset(t), err: partial})

	rec, body := do(t, router, http.MethodGet, "/api/data/aligned?symbol=005930&indicators=card_spend&from=2023-01-02&to=2023-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, body, "dataset")
	failures := body["failures"].([]interface{})
	require.Len(t, failures, 1)
	assert.Equal(t, "card_spend", failures[0].(map[string]interface{})["indicator_id"])

	// the missing price renders as null
	ds := body["dataset"].(map[string]interface{})
	pts := ds["series"].(map[string]interface{})["price"].(map[string]interface{})["points"].([]interface{})
	assert.Nil(t, pts[3].(map[string]interface{})["value"])
}

func TestGetAlignedData_BadRequests(t *testing.T) {
	router, _ := newTestRouter(t, &stubData{err: contracts.ErrInsufficientData})
	tests := []struct {
		name string
		path string
		code int
	}{
		{"missing symbol", "/api/data/aligned?from=2023-01-02&to=2023-06-30", http.StatusBadRequest},
		{"bad date", "/api/data/aligned?symbol=A&from=01/02/2023&to=2023-06-30", http.StatusBadRequest},
		{"reversed range", "/api/data/aligned?symbol=A&from=2023-06-30&to=2023-01-02", http.StatusBadRequest},
		{"no data", "/api/data/aligned?symbol=A&from=2023-01-02&to=2023-06-30", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, router, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	router, svc := newTestRouter(t, &stubData{ds: dataset(t)})

	rec, body := do(t, router, http.MethodPost, "/api/runs", map[string]interface{}{
		"strategy": "cumret_price",
		"symbol":   "005930",
		"grid": map[string]interface{}{
			"window":    map[string]float64{"min": 5, "max": 15, "step": 5},
			"threshold": map[string]float64{"min": 0.02, "max": 0.03, "step": 0.01},
		},
		"from": "2023-01-02",
		"to":   "2023-06-16",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := body["run_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.RunStatusCompleted, run.Status)

	rec, body = do(t, router, http.MethodGet, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETED", body["status"])

	rec, body = do(t, router, http.MethodGet, "/api/runs/"+id+"/results?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["rank"])
	assert.Contains(t, first["params"], "window")
	assert.Contains(t, first["metrics"], "sharpe_ratio")

	rec, body = do(t, router, http.MethodGet, "/api/runs/"+id+"/sensitivity?parameter=window", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{5.0, 10.0, 15.0}, body["values"])
	assert.Len(t, body["metric_values"], 3)

	rec, body = do(t, router, http.MethodGet, "/api/runs?symbol=005930", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = do(t, router, http.MethodPost, "/api/runs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRun_Errors(t *testing.T) {
	router, _ := newTestRouter(t, &stubData{ds: dataset(t)})
	tests := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"missing symbol", map[string]interface{}{"strategy": "cumret_price", "from": "2023-01-02", "to": "2023-06-16"}, http.StatusBadRequest},
		{"bad date", map[string]interface{}{"strategy": "cumret_price", "symbol": "A", "from": "2023/01/02", "to": "2023-06-16"}, http.StatusBadRequest},
		{"no strategy", map[string]interface{}{"symbol": "A", "from": "2023-01-02", "to": "2023-06-16"}, http.StatusBadRequest},
		{"unknown strategy", map[string]interface{}{"strategy": "x", "symbol": "A", "from": "2023-01-02", "to": "2023-06-16",
			"grid": map[string]interface{}{"window": map[string]float64{"min": 5, "max": 5}}}, http.StatusBadRequest},
		{"unknown preset", map[string]interface{}{"preset": "nope", "symbol": "A", "from": "2023-01-02", "to": "2023-06-16"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, router, http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec, _ := do(t, router, http.MethodPost, "/api/runs", map[string]interface{}{
		"preset": "quick", "symbol": "A", "from": "2023-01-02", "to": "2023-06-16",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestRunNotFound(t *testing.T) {
	router, _ := newTestRouter(t, &stubData{})
	for _, path := range []string{"/api/runs/missing", "/api/runs/missing/results", "/api/runs/missing/sensitivity?parameter=window"} {
		rec, _ := do(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec, _ := do(t, router, http.MethodGet, "/api/runs/missing/sensitivity", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPresets(t *testing.T) {
	router, _ := newTestRouter(t, &stubData{})
	rec, body := do(t, router, http.MethodGet, "/api/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	presets := body["presets"].([]interface{})
	require.Len(t, presets, 1)
	assert.Equal(t, "quick", presets[0].(map[string]interface{})["name"])
	assert.Len(t, presets[0].(map[string]interface{})["hash"], 64)
}
