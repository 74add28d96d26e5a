package nwis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/hydrocast/flood-elt/internal/domain"
)

const (
	defaultBaseURL = "https://waterservices.usgs.gov"

	// ParamStreamflow is the NWIS parameter code for discharge
	// in cubic feet per second.
	ParamStreamflow = "00060"

	// siteTypeStream restricts the site inventory to stream gages.
	siteTypeStream = "ST"
)

// Client fetches site inventory and instantaneous values from the USGS
// NWIS Water Services API.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates an NWIS client with the given request timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:    resty.New().SetTimeout(timeout),
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

// SitesByHUC returns all active stream-gage sites within a HUC region.
// The site service only speaks RDB (USGS tab-delimited), so the expanded
// site output is requested and parsed into domain sites.
func (c *Client) SitesByHUC(ctx context.Context, hucCode string) ([]domain.Site, error) {
	var body []byte
	err := c.retry(ctx, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"format":     "rdb",
				"huc":        hucCode,
				"siteType":   siteTypeStream,
				"siteStatus": "active",
				"siteOutput": "expanded",
			}).
			Get(c.baseURL + "/nwis/site/")
		if err != nil {
			return err
		}
		// NWIS returns 404 for an empty result set rather than an empty table.
		if resp.StatusCode() == http.StatusNotFound {
			body = nil
			return nil
		}
		if err := statusError(resp); err != nil {
			return err
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nwis site inventory for HUC %s: %w", hucCode, err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	sites, err := parseSiteRDB(body)
	if err != nil {
		return nil, fmt.Errorf("parse site inventory for HUC %s: %w", hucCode, err)
	}
	return sites, nil
}

// InstantaneousValues fetches discharge readings for a batch of sites over a
// date window from the NWIS instantaneous values service (WaterML JSON).
// Dates are truncated to days, matching the service's startDT/endDT params.
func (c *Client) InstantaneousValues(ctx context.Context, siteIDs []string, param string, start, end time.Time) ([]domain.StreamflowReading, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}
	if param == "" {
		param = ParamStreamflow
	}

	var payload waterML
	err := c.retry(ctx, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"format":      "json",
				"sites":       strings.Join(siteIDs, ","),
				"parameterCd": param,
				"startDT":     start.UTC().Format("2006-01-02"),
				"endDT":       end.UTC().Format("2006-01-02"),
			}).
			SetResult(&payload).
			Get(c.baseURL + "/nwis/iv/")
		if err != nil {
			return err
		}
		return statusError(resp)
	})
	if err != nil {
		return nil, fmt.Errorf("nwis instantaneous values: %w", err)
	}

	readings, skipped := payload.readings()
	if skipped > 0 {
		c.logger.Warn("skipped unparseable NWIS values", "count", skipped)
	}
	return readings, nil
}

// retry runs op with capped exponential backoff. Client errors other than
// 429 are permanent; everything else (timeouts, 5xx) is retried.
func (c *Client) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

func statusError(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code == http.StatusOK:
		return nil
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("nwis API error: status %d: %s", code, snippet(resp.Body())))
	default:
		return fmt.Errorf("nwis API error: status %d", code)
	}
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
