package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/research"
	"github.com/wonny/altquant/internal/strategyconfig"
	"github.com/wonny/altquant/pkg/validate"
)

var errBadRequest = errors.New("bad request")

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var (
		fieldErrs validate.Errors
		presetErr strategyconfig.ValidationError
		integrity *contracts.DataIntegrityError
	)
	switch {
	case errors.Is(err, contracts.ErrRunNotFound), errors.Is(err, contracts.ErrPresetNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrRunClosed), errors.Is(err, research.ErrRunNotCompleted):
		return http.StatusConflict
	case errors.Is(err, errBadRequest), errors.As(err, &fieldErrs), errors.As(err, &presetErr),
		errors.Is(err, contracts.ErrUnknownStrategy), errors.Is(err, contracts.ErrUnknownMetric),
		errors.Is(err, contracts.ErrInvalidGrid), errors.Is(err, contracts.ErrInvalidSeries):
		return http.StatusBadRequest
	case errors.Is(err, contracts.ErrInsufficientData), errors.Is(err, contracts.ErrCorruptCalendar),
		errors.Is(err, contracts.ErrMisalignedSeries), errors.As(err, &integrity):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var fieldErrs validate.Errors
	if errors.As(err, &fieldErrs) {
		respondJSON(w, status, map[string]interface{}{
			"error":  "validation failed",
			"fields": fieldErrs,
		})
		return
	}
	respondError(w, status, err.Error())
}

// parseRange reads from/to (YYYY-MM-DD)
func parseRange(from, to string) (contracts.DateRange, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return contracts.DateRange{}, fmt.Errorf("%w: invalid 'from' date (expected YYYY-MM-DD)", errBadRequest)
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return contracts.DateRange{}, fmt.Errorf("%w: invalid 'to' date (expected YYYY-MM-DD)", errBadRequest)
	}
	r, err := contracts.NewDateRange(start, end)
	if err != nil {
		return contracts.DateRange{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return r, nil
}

func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
