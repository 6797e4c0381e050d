// Package hsp is the HSP collaborator seam: a client for the Historic
// Service Performance serviceMetrics endpoint, plus the DelayPredictor
// and WeatherLookup interfaces the original's predict_delay/weather_at
// collaborators would sit behind. The classifier and weather lookup
// themselves are out of scope (spec.md §1 Non-goals); this package only
// gives a future implementation of those interfaces a ready HTTP data
// source and a correctly-bucketed day classifier to build on.
// Grounded on original_source/knowledge_base/hsp.py.
package hsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"railplanner.dev/core/routing"
)

// Days is the HSP day-of-week bucket a statistics request is scoped to.
type Days int

const (
	Weekday Days = iota
	Saturday
	Sunday
)

// DaysFor classifies a date into its HSP day bucket, mirroring
// hsp.py's HSPDays.from_date.
func DaysFor(date time.Time) Days {
	switch date.Weekday() {
	case time.Saturday:
		return Saturday
	case time.Sunday:
		return Sunday
	default:
		return Weekday
	}
}

func (d Days) String() string {
	switch d {
	case Saturday:
		return "SATURDAY"
	case Sunday:
		return "SUNDAY"
	default:
		return "WEEKDAY"
	}
}

// Request is one serviceMetrics query, mirroring hsp.py's HSPRequest.
type Request struct {
	FromDate  time.Time
	ToDate    time.Time
	Days      Days
	FromTime  time.Time // time-of-day only, HHMM
	ToTime    time.Time // time-of-day only, HHMM
	TOCFilter []string
}

// Attributes is one matched service's identity, mirroring hsp.py's
// HSPAttributes.
type Attributes struct {
	OriginLocation      string   `json:"origin_location"`
	DestinationLocation string   `json:"destination_location"`
	GBTTPTD             string   `json:"gbtt_ptd"`
	GBTTPTA             string   `json:"gbtt_pta"`
	TOCCode             string   `json:"toc_code"`
	MatchedServices     int      `json:"matched_services,string"`
	RIDs                []string `json:"rids"`
}

// Metric is one tolerance bucket's counts, mirroring hsp.py's HSPMetric.
type Metric struct {
	ToleranceValue   int  `json:"tolerance_value,string"`
	NumNotTolerance  int  `json:"num_not_tolerance,string"`
	NumTolerance     int  `json:"num_tolerance,string"`
	PercentTolerance int  `json:"percent_tolerance,string"`
	GlobalTolerance  bool `json:"global_tolerance,string"`
}

// Service is one route's statistics, mirroring hsp.py's HSPService.
type Service struct {
	Attributes Attributes `json:"serviceAttributesMetrics"`
	Metrics    []Metric   `json:"Metrics"`
}

// TimeLate returns the loosest tolerance bucket that still has
// out-of-tolerance services, or false if every service ran on time (or
// there are no metrics at all). Grounded on hsp.py's
// HSPService.time_late.
func (s Service) TimeLate() (int, bool) {
	late, found := 0, false
	for _, m := range s.Metrics {
		if m.NumNotTolerance > 0 && (!found || m.ToleranceValue > late) {
			late, found = m.ToleranceValue, true
		}
	}
	return late, found
}

// Client calls the HSP serviceMetrics API, mirroring hsp.py's
// hsp_route_statistics.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	log        *zap.Logger
}

// New returns a Client against baseURL (the serviceMetrics endpoint),
// authenticating with HTTP basic auth as hsp.py does via
// config.CREDENTIALS.
func New(baseURL, username, password string, log *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		username:   username,
		password:   password,
		log:        log,
	}
}

type serviceMetricsRequest struct {
	FromLoc   string   `json:"from_loc"`
	ToLoc     string   `json:"to_loc"`
	FromTime  string   `json:"from_time"`
	ToTime    string   `json:"to_time"`
	FromDate  string   `json:"from_date"`
	ToDate    string   `json:"to_date"`
	Days      string   `json:"days"`
	Tolerance []string `json:"tolerance"`
	TOCFilter []string `json:"toc_filter,omitempty"`
}

type serviceMetricsResponse struct {
	Services []Service `json:"Services"`
}

// RouteStatistics posts a serviceMetrics request for the leg between
// fromCRS and toCRS and returns the matched services. Grounded on
// hsp.py's hsp_route_statistics.
func (c *Client) RouteStatistics(ctx context.Context, fromCRS, toCRS string, req Request) ([]Service, error) {
	body := serviceMetricsRequest{
		FromLoc:   fromCRS,
		ToLoc:     toCRS,
		FromTime:  req.FromTime.Format("1504"),
		ToTime:    req.ToTime.Format("1504"),
		FromDate:  req.FromDate.Format("2006-01-02"),
		ToDate:    req.ToDate.Format("2006-01-02"),
		Days:      req.Days.String(),
		Tolerance: []string{"0", "5", "10", "30"},
		TOCFilter: req.TOCFilter,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding serviceMetrics request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building serviceMetrics request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling serviceMetrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if c.log != nil {
			c.log.Error("serviceMetrics call failed", zap.Int("status", resp.StatusCode), zap.String("from", fromCRS), zap.String("to", toCRS))
		}
		return nil, fmt.Errorf("serviceMetrics: status %d", resp.StatusCode)
	}

	var decoded serviceMetricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding serviceMetrics response: %w", err)
	}
	return decoded.Services, nil
}

// DelayPredictor is the abstract collaborator boundary spec.md §1 keeps
// out of scope: a prediction of lateness for a TrainRoute on a date.
// Client is a data source an implementation could consume; it is not
// itself a DelayPredictor.
type DelayPredictor interface {
	PredictDelay(ctx context.Context, route routing.RouteAndJourneys, date time.Time) (time.Duration, bool, error)
}

// WeatherLookup is the other abstract collaborator boundary spec.md §1
// keeps out of scope: conditions at a station on a date.
type WeatherLookup interface {
	WeatherAt(ctx context.Context, crs string, at time.Time) (string, bool, error)
}
