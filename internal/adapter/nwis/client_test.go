package nwis

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteRDBFixture = `#
# US Geological Survey
# retrieved: 2026-08-20 10:00:00 UTC
#
agency_cd	site_no	station_nm	dec_lat_va	dec_long_va	huc_cd	state_cd	county_cd	alt_va	drain_area_va
5s	15s	50s	16n	16n	16s	2s	3s	8s	8s
USGS	06893000	Missouri River at Kansas City, MO	39.1125	-94.5875	10300101	29	095	706.57	485117
USGS	06935965	Missouri River at St. Charles, MO	38.8261	-90.4818	10300200	29	183		524000
`

const ivJSONFixture = `{
  "value": {
    "timeSeries": [
      {
        "sourceInfo": {"siteCode": [{"value": "06893000"}]},
        "values": [
          {
            "value": [
              {"value": "45200", "qualifiers": ["P"], "dateTime": "2026-08-19T12:00:00.000-05:00"},
              {"value": "-999999", "qualifiers": ["P", "Ice"], "dateTime": "2026-08-19T12:15:00.000-05:00"},
              {"value": "45300", "qualifiers": ["P", "e"], "dateTime": "2026-08-19T12:30:00.000-05:00"}
            ]
          }
        ]
      }
    ]
  }
}`

func testClient(baseURL string) *Client {
	return &Client{
		http:    resty.New().SetTimeout(5 * time.Second),
		baseURL: baseURL,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSitesByHUC_ParsesExpandedRDB(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nwis/site/", r.URL.Path)
		assert.Equal(t, "rdb", r.URL.Query().Get("format"))
		assert.Equal(t, "10", r.URL.Query().Get("huc"))
		assert.Equal(t, "ST", r.URL.Query().Get("siteType"))
		assert.Equal(t, "expanded", r.URL.Query().Get("siteOutput"))
		_, _ = w.Write([]byte(siteRDBFixture))
	}))
	defer srv.Close()

	sites, err := testClient(srv.URL).SitesByHUC(context.Background(), "10")
	require.NoError(t, err)
	require.Len(t, sites, 2)

	assert.Equal(t, "06893000", sites[0].SiteID)
	assert.Equal(t, "Missouri River at Kansas City, MO", sites[0].StationName)
	assert.InDelta(t, 39.1125, sites[0].Latitude, 1e-9)
	assert.InDelta(t, -94.5875, sites[0].Longitude, 1e-9)
	assert.Equal(t, "10300101", sites[0].HUCCode)
	assert.Equal(t, "29", sites[0].StateCode)
	assert.InDelta(t, 485117, sites[0].DrainageAreaSqMi, 1e-9)
	assert.True(t, sites[0].HasCoordinates())

	// Blank alt_va on the second row parses as zero.
	assert.Zero(t, sites[1].Altitude)
}

func TestSitesByHUC_EmptyRegionIs404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sites, err := testClient(srv.URL).SitesByHUC(context.Background(), "99")
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestInstantaneousValues_MapsWaterML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nwis/iv/", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "06893000,06935965", r.URL.Query().Get("sites"))
		assert.Equal(t, "00060", r.URL.Query().Get("parameterCd"))
		assert.Equal(t, "2026-08-12", r.URL.Query().Get("startDT"))
		assert.Equal(t, "2026-08-19", r.URL.Query().Get("endDT"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ivJSONFixture))
	}))
	defer srv.Close()

	start := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)

	readings, err := testClient(srv.URL).InstantaneousValues(
		context.Background(), []string{"06893000", "06935965"}, "", start, end)
	require.NoError(t, err)

	// The -999999 sentinel row is dropped.
	require.Len(t, readings, 2)
	assert.Equal(t, "06893000", readings[0].SiteID)
	assert.InDelta(t, 45200, readings[0].StreamflowCFS, 1e-9)
	assert.Equal(t, "P", readings[0].Qualifiers)
	assert.Equal(t, time.Date(2026, 8, 19, 17, 0, 0, 0, time.UTC), readings[0].Datetime)
	assert.Equal(t, "P,e", readings[1].Qualifiers)
}

func TestInstantaneousValues_EmptySiteList(t *testing.T) {
	readings, err := testClient("http://unused").InstantaneousValues(
		context.Background(), nil, "", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, readings)
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(siteRDBFixture))
	}))
	defer srv.Close()

	sites, err := testClient(srv.URL).SitesByHUC(context.Background(), "10")
	require.NoError(t, err)
	assert.Len(t, sites, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetry_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SitesByHUC(context.Background(), "bogus")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
