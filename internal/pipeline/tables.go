package pipeline

import (
	"sort"
	"time"

	"github.com/hydrocast/flood-elt/internal/domain"
)

// Raw landing tables. Extraction jobs append here; the transform step reads
// them into staging models.
const (
	siteTable       = "site_metadata"
	streamflowTable = "streamflow_raw"
	weatherTable    = "weather_forcing"
	basinTable      = "basin_characteristics"
)

const siteDDL = `CREATE TABLE IF NOT EXISTS raw.site_metadata (
	site_id VARCHAR,
	station_name VARCHAR,
	latitude DOUBLE,
	longitude DOUBLE,
	drainage_area_sq_mi DOUBLE,
	huc_code VARCHAR,
	state_code VARCHAR,
	county_code VARCHAR,
	altitude DOUBLE,
	extracted_at TIMESTAMP
)`

const streamflowDDL = `CREATE TABLE IF NOT EXISTS raw.streamflow_raw (
	site_id VARCHAR,
	datetime TIMESTAMP,
	streamflow_cfs DOUBLE,
	qualifiers VARCHAR,
	extracted_at TIMESTAMP
)`

const weatherDDL = `CREATE TABLE IF NOT EXISTS raw.weather_forcing (
	longitude DOUBLE,
	latitude DOUBLE,
	datetime TIMESTAMP,
	prcp DOUBLE,
	temp DOUBLE,
	humidity DOUBLE,
	wind_speed DOUBLE,
	wind_direction DOUBLE,
	rsds DOUBLE,
	pet DOUBLE,
	extracted_at TIMESTAMP
)`

const basinDDL = `CREATE TABLE IF NOT EXISTS raw.basin_characteristics (
	site_id VARCHAR,
	comid BIGINT,
	characteristic_id VARCHAR,
	value DOUBLE,
	extracted_at TIMESTAMP
)`

var siteColumns = []string{
	"site_id", "station_name", "latitude", "longitude", "drainage_area_sq_mi",
	"huc_code", "state_code", "county_code", "altitude", "extracted_at",
}

var streamflowColumns = []string{
	"site_id", "datetime", "streamflow_cfs", "qualifiers", "extracted_at",
}

var weatherColumns = []string{
	"longitude", "latitude", "datetime", "prcp", "temp", "humidity",
	"wind_speed", "wind_direction", "rsds", "pet", "extracted_at",
}

var basinColumns = []string{
	"site_id", "comid", "characteristic_id", "value", "extracted_at",
}

func siteRows(sites []domain.Site, extractedAt time.Time) [][]any {
	rows := make([][]any, len(sites))
	for i, s := range sites {
		rows[i] = []any{
			s.SiteID, s.StationName, s.Latitude, s.Longitude, s.DrainageAreaSqMi,
			s.HUCCode, s.StateCode, s.CountyCode, s.Altitude, extractedAt,
		}
	}
	return rows
}

// readingRows stamps extracted_at at load time; the staging dedupe keeps the
// latest extract per key, which is how provisional-value corrections win.
func readingRows(readings []domain.StreamflowReading, extractedAt time.Time) [][]any {
	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = []any{r.SiteID, r.Datetime, r.StreamflowCFS, r.Qualifiers, extractedAt}
	}
	return rows
}

func forcingRows(records []domain.ForcingRecord, extractedAt time.Time) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.Longitude, r.Latitude, r.Datetime, r.Prcp, r.Temp, r.Humidity,
			r.WindSpeed, r.WindDirection, r.Rsds, r.Pet, extractedAt,
		}
	}
	return rows
}

// basinRows flattens one characteristics map per site into one row per
// characteristic, in sorted key order so re-runs stage identical batches.
func basinRows(chars []domain.BasinCharacteristics, extractedAt time.Time) [][]any {
	var rows [][]any
	for _, bc := range chars {
		ids := make([]string, 0, len(bc.Values))
		for id := range bc.Values {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rows = append(rows, []any{bc.SiteID, bc.ComID, id, bc.Values[id], extractedAt})
		}
	}
	return rows
}
