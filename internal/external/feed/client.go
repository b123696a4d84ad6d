package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/pkg/httputil"
	"github.com/wonny/altquant/pkg/logger"
)

// Client fetches raw price and indicator series from the data feed's JSON API
// ⭐ SSOT: 외부 시계열 피드 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	apiKey     string
}

var (
	_ contracts.PriceFetcher     = (*Client)(nil)
	_ contracts.IndicatorFetcher = (*Client)(nil)
)

// ErrNotFound is returned when the feed does not know a symbol or indicator
var ErrNotFound = errors.New("series not found")

// NewClient creates a feed client
func NewClient(httpClient *httputil.Client, baseURL, apiKey string, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithComponent("feed"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// seriesResponse is the wire format of both endpoints
type seriesResponse struct {
	ID        string          `json:"id"`
	Frequency string          `json:"frequency"`
	Source    string          `json:"source"`
	Points    []pointResponse `json:"points"`
}

type pointResponse struct {
	Date     string   `json:"date"`
	Value    *float64 `json:"value"` // null = not reported
	Released string   `json:"released,omitempty"`
}

// FetchPrices loads the daily close series of symbol
func (c *Client) FetchPrices(ctx context.Context, symbol string, r contracts.DateRange) (*contracts.IndicatorSeries, error) {
	var resp seriesResponse
	if err := c.get(ctx, "/v1/prices/"+url.PathEscape(symbol), r, &resp); err != nil {
		return nil, fmt.Errorf("fetch prices %s: %w", symbol, err)
	}
	if resp.Frequency == "" {
		resp.Frequency = string(contracts.FrequencyDaily)
	}
	series, err := c.parseSeries(contracts.PriceSeriesName, resp)
	if err != nil {
		return nil, fmt.Errorf("parse prices %s: %w", symbol, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"points": series.Len(),
	}).Debug("Fetched prices")
	return series, nil
}

// FetchIndicator loads one raw alternative-data series
func (c *Client) FetchIndicator(ctx context.Context, indicatorID string, r contracts.DateRange) (*contracts.IndicatorSeries, error) {
	var resp seriesResponse
	if err := c.get(ctx, "/v1/indicators/"+url.PathEscape(indicatorID), r, &resp); err != nil {
		return nil, fmt.Errorf("fetch indicator %s: %w", indicatorID, err)
	}
	series, err := c.parseSeries(indicatorID, resp)
	if err != nil {
		return nil, fmt.Errorf("parse indicator %s: %w", indicatorID, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"indicator": indicatorID,
		"frequency": series.Frequency,
		"points":    series.Len(),
	}).Debug("Fetched indicator")
	return series, nil
}

func (c *Client) get(ctx context.Context, path string, r contracts.DateRange, dest interface{}) error {
	params := url.Values{}
	params.Set("start", r.Start.Format("2006-01-02"))
	params.Set("end", r.End.Format("2006-01-02"))
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	err := c.httpClient.GetJSON(ctx, fullURL, dest)
	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// parseSeries converts the wire format; points are sorted by date and a
// null value becomes a missing (NaN) observation
func (c *Client) parseSeries(id string, resp seriesResponse) (*contracts.IndicatorSeries, error) {
	freq, err := contracts.ParseFrequency(resp.Frequency)
	if err != nil {
		return nil, err
	}

	points := make([]contracts.Observation, 0, len(resp.Points))
	for i, p := range resp.Points {
		t, err := parseDate(p.Date)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		obs := contracts.Observation{Time: t, Value: math.NaN()}
		if p.Value != nil {
			obs.Value = *p.Value
		}
		if p.Released != "" {
			released, err := parseDate(p.Released)
			if err != nil {
				return nil, fmt.Errorf("point %d released: %w", i, err)
			}
			obs.Released = released
		}
		points = append(points, obs)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })

	source := resp.Source
	if source == "" {
		source = "feed"
	}
	return contracts.NewIndicatorSeries(id, freq, source, points)
}

// parseDate accepts 2006-01-02, 20060102 and RFC 3339; results are UTC days
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "20060102", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return contracts.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
