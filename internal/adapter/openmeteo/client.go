package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/hydrocast/flood-elt/internal/domain"
)

const (
	defaultBaseURL = "https://archive-api.open-meteo.com"

	// batchSize caps coordinates per request; larger batches time out on
	// the archive endpoint.
	batchSize = 25
)

// DefaultVariables are the forcing variables fetched when none are configured.
var DefaultVariables = []string{
	"prcp", "temp", "humidity", "wind_speed", "wind_direction", "rsds", "pet",
}

// variableNames maps the pipeline's short variable names to Open-Meteo's.
var variableNames = map[string]string{
	"prcp":           "precipitation",
	"temp":           "temperature_2m",
	"humidity":       "relative_humidity_2m",
	"wind_speed":     "wind_speed_10m",
	"wind_direction": "wind_direction_10m",
	"rsds":           "shortwave_radiation",
	"pet":            "et0_fao_evapotranspiration",
}

// Client fetches hourly historical forcing data from the Open-Meteo archive
// API. Requests are rate limited to stay inside the free tier (600 calls/min)
// and 429 responses back off exponentially before retrying.
type Client struct {
	http          *resty.Client
	baseURL       string
	limiter       *rate.Limiter
	retryAttempts int
	retryBackoff  time.Duration
	transientWait time.Duration
	logger        *slog.Logger
}

// NewClient creates an Open-Meteo archive client. callsPerMinute bounds the
// request rate; retryBackoff is the base wait applied to rate-limit errors.
func NewClient(timeout time.Duration, callsPerMinute, retryAttempts int, retryBackoff time.Duration, logger *slog.Logger) *Client {
	if callsPerMinute <= 0 {
		callsPerMinute = 500
	}
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	return &Client{
		http:          resty.New().SetTimeout(timeout),
		baseURL:       defaultBaseURL,
		limiter:       rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), 1),
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		transientWait: 5 * time.Second,
		logger:        logger,
	}
}

// FetchForcing fetches hourly forcing records for the given coordinates over
// [start, end], batching coordinates per request and preserving the request
// order when zipping responses back to coordinates.
func (c *Client) FetchForcing(ctx context.Context, coords []domain.Coordinate, start, end time.Time, variables []string) ([]domain.ForcingRecord, error) {
	if len(coords) == 0 {
		return nil, nil
	}
	if len(variables) == 0 {
		variables = DefaultVariables
	}

	totalBatches := (len(coords) + batchSize - 1) / batchSize
	c.logger.Info("fetching weather forcing",
		"locations", len(coords),
		"batches", totalBatches,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	var all []domain.ForcingRecord
	for i := 0; i < len(coords); i += batchSize {
		batch := coords[i:min(i+batchSize, len(coords))]

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		records, err := c.fetchBatch(ctx, batch, start, end, variables)
		if err != nil {
			return nil, fmt.Errorf("open-meteo batch %d/%d: %w", i/batchSize+1, totalBatches, err)
		}
		all = append(all, records...)
	}
	return all, nil
}

// fetchBatch requests one coordinate batch, retrying with exponential backoff
// on 429 and shorter linear delays on other transient failures.
func (c *Client) fetchBatch(ctx context.Context, coords []domain.Coordinate, start, end time.Time, variables []string) ([]domain.ForcingRecord, error) {
	lats := make([]string, len(coords))
	lons := make([]string, len(coords))
	for i, co := range coords {
		lats[i] = strconv.FormatFloat(co.Latitude, 'f', 4, 64)
		lons[i] = strconv.FormatFloat(co.Longitude, 'f', 4, 64)
	}

	hourly := make([]string, len(variables))
	for i, v := range variables {
		name, ok := variableNames[v]
		if !ok {
			name = v
		}
		hourly[i] = name
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"latitude":        strings.Join(lats, ","),
				"longitude":       strings.Join(lons, ","),
				"start_date":      start.UTC().Format("2006-01-02"),
				"end_date":        end.UTC().Format("2006-01-02"),
				"hourly":          strings.Join(hourly, ","),
				"timezone":        "UTC",
				"timeformat":      "unixtime",
				"wind_speed_unit": "ms",
			}).
			Get(c.baseURL + "/v1/archive")

		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode() == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("open-meteo rate limit: status 429")
			if attempt < c.retryAttempts-1 {
				wait := c.retryBackoff * (1 << attempt)
				c.logger.Warn("rate limit hit, backing off",
					"wait", wait, "attempt", attempt+1, "max_attempts", c.retryAttempts)
				if !sleepWithContext(ctx, wait) {
					return nil, ctx.Err()
				}
			}
			continue
		case resp.StatusCode() != http.StatusOK:
			lastErr = fmt.Errorf("open-meteo API error: status %d", resp.StatusCode())
		default:
			payload, err := decodeLocations(resp.Body())
			if err != nil {
				return nil, fmt.Errorf("decode archive response: %w", err)
			}
			if len(payload) != len(coords) {
				c.logger.Warn("archive response location count mismatch",
					"requested", len(coords), "returned", len(payload))
			}
			var records []domain.ForcingRecord
			for i, loc := range payload {
				if i >= len(coords) {
					break
				}
				records = append(records, loc.records(coords[i], variables)...)
			}
			return records, nil
		}

		if attempt < c.retryAttempts-1 {
			wait := c.transientWait * time.Duration(attempt+1)
			c.logger.Warn("request failed, retrying",
				"error", lastErr, "wait", wait, "attempt", attempt+1)
			if !sleepWithContext(ctx, wait) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// decodeLocations handles both response shapes: the archive API returns a
// JSON array for multi-coordinate requests and a bare object for one.
func decodeLocations(body []byte) ([]locationResponse, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var many []locationResponse
		if err := json.Unmarshal(body, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one locationResponse
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []locationResponse{one}, nil
}

// locationResponse is one coordinate's block in a multi-location archive
// response. Value arrays align index-wise with Hourly.Time; the API emits
// null for gaps, hence the pointer elements.
type locationResponse struct {
	Hourly hourlyBlock `json:"hourly"`
}

type hourlyBlock struct {
	Time                     []int64    `json:"time"`
	Precipitation            []*float64 `json:"precipitation"`
	Temperature2M            []*float64 `json:"temperature_2m"`
	RelativeHumidity2M       []*float64 `json:"relative_humidity_2m"`
	WindSpeed10M             []*float64 `json:"wind_speed_10m"`
	WindDirection10M         []*float64 `json:"wind_direction_10m"`
	ShortwaveRadiation       []*float64 `json:"shortwave_radiation"`
	Et0FaoEvapotranspiration []*float64 `json:"et0_fao_evapotranspiration"`
}

// records expands a location block into forcing records stamped with the
// requested coordinate. The API returns grid-snapped coordinates, so the
// requested pair is kept to keep joins against site metadata exact.
func (l locationResponse) records(coord domain.Coordinate, variables []string) []domain.ForcingRecord {
	out := make([]domain.ForcingRecord, 0, len(l.Hourly.Time))
	for i, unix := range l.Hourly.Time {
		rec := domain.ForcingRecord{
			Longitude: coord.Longitude,
			Latitude:  coord.Latitude,
			Datetime:  time.Unix(unix, 0).UTC(),
		}
		for _, v := range variables {
			switch v {
			case "prcp":
				rec.Prcp = at(l.Hourly.Precipitation, i)
			case "temp":
				rec.Temp = at(l.Hourly.Temperature2M, i)
			case "humidity":
				rec.Humidity = at(l.Hourly.RelativeHumidity2M, i)
			case "wind_speed":
				rec.WindSpeed = at(l.Hourly.WindSpeed10M, i)
			case "wind_direction":
				rec.WindDirection = at(l.Hourly.WindDirection10M, i)
			case "rsds":
				rec.Rsds = at(l.Hourly.ShortwaveRadiation, i)
			case "pet":
				rec.Pet = at(l.Hourly.Et0FaoEvapotranspiration, i)
			}
		}
		out = append(out, rec)
	}
	return out
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
