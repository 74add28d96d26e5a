package nldi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/hydrocast/flood-elt/internal/domain"
)

const defaultBaseURL = "https://api.water.usgs.gov/nldi"

// DefaultCharacteristics are the NLDI local catchment characteristics fetched
// when none are configured. CAT_ prefixed ids describe the local catchment
// (TOT_ would be the total upstream watershed).
var DefaultCharacteristics = []string{
	// Hydrologic
	"CAT_BFI", "CAT_PET", "CAT_RECHG", "CAT_TWI",
	// Climate
	"CAT_PPT7100_ANN", "CAT_TAV7100_ANN", "CAT_RH", "CAT_ET",
	// Land cover (NLCD 2019)
	"CAT_NLCD19_11", "CAT_NLCD19_41", "CAT_NLCD19_42", "CAT_NLCD19_52",
	"CAT_NLCD19_71", "CAT_NLCD19_81", "CAT_NLCD19_82", "CAT_NLCD19_90",
	// Topography
	"CAT_ELEV_MEAN", "CAT_ELEV_MAX", "CAT_ELEV_MIN", "CAT_SLOPE_PCT",
	"CAT_BASIN_AREA",
}

// Client resolves USGS site ids to NHDPlus ComIDs and fetches local catchment
// characteristics from the NLDI service. ComID resolutions are cached since
// multiple gages can sit on the same stream reach and the mapping is stable.
type Client struct {
	http    *resty.Client
	baseURL string
	cache   *comidCache
	logger  *slog.Logger
}

// NewClient creates an NLDI client with the given request timeout and ComID
// cache capacity.
func NewClient(timeout time.Duration, cacheSize int, logger *slog.Logger) *Client {
	return &Client{
		http:    resty.New().SetTimeout(timeout),
		baseURL: defaultBaseURL,
		cache:   newComidCache(cacheSize),
		logger:  logger,
	}
}

// ComID resolves a NWIS site id to its NHDPlus ComID.
func (c *Client) ComID(ctx context.Context, siteID string) (int64, error) {
	if comid, ok := c.cache.get(siteID); ok {
		return comid, nil
	}

	var payload featureCollection
	err := c.retry(ctx, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&payload).
			Get(fmt.Sprintf("%s/linked-data/nwissite/USGS-%s", c.baseURL, siteID))
		if err != nil {
			return err
		}
		return statusError(resp)
	})
	if err != nil {
		return 0, fmt.Errorf("resolve comid for site %s: %w", siteID, err)
	}
	if len(payload.Features) == 0 {
		return 0, fmt.Errorf("site %s not indexed by NLDI", siteID)
	}

	comid, err := strconv.ParseInt(payload.Features[0].Properties.Comid, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("site %s: bad comid %q", siteID, payload.Features[0].Properties.Comid)
	}

	c.cache.put(siteID, comid)
	return comid, nil
}

// LocalCharacteristics fetches local catchment characteristic values for a
// ComID, filtered to the requested characteristic ids.
func (c *Client) LocalCharacteristics(ctx context.Context, comid int64, charIDs []string) (map[string]float64, error) {
	if len(charIDs) == 0 {
		charIDs = DefaultCharacteristics
	}
	wanted := make(map[string]bool, len(charIDs))
	for _, id := range charIDs {
		wanted[id] = true
	}

	var payload characteristicsResponse
	err := c.retry(ctx, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&payload).
			Get(fmt.Sprintf("%s/linked-data/comid/%d/local", c.baseURL, comid))
		if err != nil {
			return err
		}
		return statusError(resp)
	})
	if err != nil {
		return nil, fmt.Errorf("characteristics for comid %d: %w", comid, err)
	}

	values := make(map[string]float64)
	for _, ch := range payload.Characteristics {
		if !wanted[ch.ID] {
			continue
		}
		v, err := strconv.ParseFloat(ch.Value, 64)
		if err != nil {
			continue
		}
		values[ch.ID] = v
	}
	return values, nil
}

// CharacteristicsForSites resolves each site and fetches its catchment
// characteristics. Sites that fail to resolve or fetch are skipped with a
// warning; one bad gage must not sink the whole batch. Characteristic
// results are shared between sites on the same reach.
func (c *Client) CharacteristicsForSites(ctx context.Context, siteIDs []string, charIDs []string) ([]domain.BasinCharacteristics, error) {
	byComid := make(map[int64]map[string]float64)
	var out []domain.BasinCharacteristics

	for _, siteID := range siteIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		comid, err := c.ComID(ctx, siteID)
		if err != nil {
			c.logger.Warn("skipping site, comid resolution failed", "site_id", siteID, "error", err)
			continue
		}

		values, ok := byComid[comid]
		if !ok {
			values, err = c.LocalCharacteristics(ctx, comid, charIDs)
			if err != nil {
				c.logger.Warn("skipping site, characteristics fetch failed",
					"site_id", siteID, "comid", comid, "error", err)
				continue
			}
			byComid[comid] = values
		}

		out = append(out, domain.BasinCharacteristics{
			SiteID: siteID,
			ComID:  comid,
			Values: values,
		})
	}
	return out, nil
}

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
		return backoff.Permanent(fmt.Errorf("nldi API error: status %d: %s", code, snippet(resp.Body())))
	default:
		return fmt.Errorf("nldi API error: status %d", code)
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

// NLDI response types, reduced to the fields the pipeline reads.

type featureCollection struct {
	Features []struct {
		Properties struct {
			Comid string `json:"comid"`
		} `json:"properties"`
	} `json:"features"`
}

type characteristicsResponse struct {
	Characteristics []struct {
		ID    string `json:"characteristic_id"`
		Value string `json:"characteristic_value"`
	} `json:"characteristics"`
}
