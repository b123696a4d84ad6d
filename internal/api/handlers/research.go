package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/altquant/internal/altdata"
	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/research"
	"github.com/wonny/altquant/pkg/logger"
	"github.com/wonny/altquant/pkg/validate"
)

// ResearchHandler serves aligned data, optimization runs and sweeps
// ⭐ SSOT: 리서치 API 핸들러는 이 구조체에서만
type ResearchHandler struct {
	service *research.Service
	logger  *logger.Logger
}

// NewResearchHandler creates a new research handler
func NewResearchHandler(service *research.Service, log *logger.Logger) *ResearchHandler {
	return &ResearchHandler{
		service: service,
		logger:  log,
	}
}

// AlignedDataResponse carries the dataset and any per-indicator failures
type AlignedDataResponse struct {
	Dataset  *contracts.AlignedDataset    `json:"dataset"`
	Failures []contracts.IndicatorFailure `json:"failures,omitempty"`
}

// GetAlignedData returns price and indicators on one trading-date index
// GET /api/data/aligned?symbol=005930&indicators=card_spend,web_traffic&from=2023-01-02&to=2023-12-29
func (h *ResearchHandler) GetAlignedData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	rng, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		respondErr(w, err)
		return
	}

	ds, err := h.service.GetAlignedData(r.Context(), symbol, splitList(q.Get("indicators")), rng)
	resp := AlignedDataResponse{Dataset: ds}
	if partial, ok := altdata.AsPartial(err); ok {
		resp.Failures = partial.Failures
	} else if err != nil {
		h.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to build aligned data")
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// StartRunRequest is the body of POST /api/runs
type StartRunRequest struct {
	Strategy       string                  `json:"strategy"`
	Symbol         string                  `json:"symbol" validate:"required"`
	Indicators     []string                `json:"indicators"`
	Grid           contracts.ParameterGrid `json:"grid"`
	Metric         string                  `json:"metric"`
	From           string                  `json:"from" validate:"required,datetime=2006-01-02"`
	To             string                  `json:"to" validate:"required,datetime=2006-01-02"`
	Preset         string                  `json:"preset"`
	Workers        int                     `json:"workers" validate:"gte=0"`
	TimeoutSeconds int                     `json:"timeout_seconds" validate:"gte=0"`
}

// StartRun starts an asynchronous optimization
// POST /api/runs
func (h *ResearchHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Check(r.Context(), &req); err != nil {
		respondErr(w, err)
		return
	}
	if req.Strategy == "" && req.Preset == "" {
		respondError(w, http.StatusBadRequest, "strategy or preset is required")
		return
	}
	rng, err := parseRange(req.From, req.To)
	if err != nil {
		respondErr(w, err)
		return
	}

	id, err := h.service.StartOptimization(r.Context(), research.StartRequest{
		Strategy:   req.Strategy,
		Symbol:     req.Symbol,
		Indicators: req.Indicators,
		Grid:       req.Grid,
		Metric:     contracts.Metric(req.Metric),
		Range:      rng,
		Preset:     req.Preset,
		Workers:    req.Workers,
		Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to start optimization")
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": id,
		"status": string(contracts.RunStatusRunning),
	})
}

// ListRuns filters stored runs
// GET /api/runs?symbol=&strategy=&status=&from=&to=&limit=
func (h *ResearchHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := contracts.RunQuery{
		Symbol:   q.Get("symbol"),
		Strategy: q.Get("strategy"),
		Status:   contracts.RunStatus(q.Get("status")),
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		rng, err := parseRange(q.Get("from"), q.Get("to"))
		if err != nil {
			respondErr(w, err)
			return
		}
		query.Range = &rng
	}
	limit, err := parseLimit(q.Get("limit"), 50)
	if err != nil {
		respondErr(w, err)
		return
	}
	query.Limit = limit

	runs, err := h.service.FindRuns(r.Context(), query)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondErr(w, err)
		return
	}
	if runs == nil {
		runs = []*contracts.OptimizationRun{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns one run
// GET /api/runs/{id}
func (h *ResearchHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// CancelRun stops a running optimization
// POST /api/runs/{id}/cancel
func (h *ResearchHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.CancelRun(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// ResultView is one ranked result
type ResultView struct {
	Rank             int                       `json:"rank"`
	CombinationIndex int                       `json:"combination_index"`
	Params           map[string]float64        `json:"params"`
	Metrics          contracts.BacktestMetrics `json:"metrics"`
	Error            string                    `json:"error,omitempty"`
}

// GetResults returns ranked results
// GET /api/runs/{id}/results?limit=20
func (h *ResearchHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		respondErr(w, err)
		return
	}

	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	ranked, err := h.service.GetResults(r.Context(), id, limit)
	if err != nil {
		respondErr(w, err)
		return
	}

	views := make([]ResultView, len(ranked))
	for i, rr := range ranked {
		views[i] = ResultView{
			Rank:             rr.Rank,
			CombinationIndex: rr.Result.Params.Index,
			Params:           rr.Result.Params.Map(),
			Metrics:          rr.Result.Metrics,
			Error:            rr.Result.Error,
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  run.ID,
		"status":  run.Status,
		"partial": run.Partial,
		"metric":  run.Metric,
		"results": views,
	})
}

// GetSensitivity sweeps one parameter around the best result
// GET /api/runs/{id}/sensitivity?parameter=window
func (h *ResearchHandler) GetSensitivity(w http.ResponseWriter, r *http.Request) {
	parameter := r.URL.Query().Get("parameter")
	if parameter == "" {
		respondError(w, http.StatusBadRequest, "parameter is required")
		return
	}
	report, err := h.service.GetSensitivity(r.Context(), mux.Vars(r)["id"], parameter)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ListPresets returns the loaded optimization presets
// GET /api/presets
func (h *ResearchHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	type presetView struct {
		Name        string `json:"name"`
		Strategy    string `json:"strategy"`
		Description string `json:"description,omitempty"`
		Hash        string `json:"hash"`
	}
	views := []presetView{}
	if catalog := h.service.Presets(); catalog != nil {
		for _, name := range catalog.Names() {
			p, hash, err := catalog.Get(name)
			if err != nil {
				continue
			}
			views = append(views, presetView{Name: p.Name, Strategy: p.Strategy, Description: p.Description, Hash: hash})
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"presets": views})
}
