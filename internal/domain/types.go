package domain

import "time"

// Site is a USGS gaging station from the NWIS site inventory.
type Site struct {
	SiteID           string  `json:"site_id"`
	StationName      string  `json:"station_name"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	DrainageAreaSqMi float64 `json:"drainage_area_sq_mi"`
	HUCCode          string  `json:"huc_code"`
	StateCode        string  `json:"state_code"`
	CountyCode       string  `json:"county_code"`
	Altitude         float64 `json:"altitude"`
}

// HasCoordinates reports whether the site carries a usable lat/lon pair.
// NWIS leaves coordinates blank for some legacy stations.
func (s Site) HasCoordinates() bool {
	return s.Latitude != 0 || s.Longitude != 0
}

// StreamflowReading is one instantaneous discharge observation from NWIS.
type StreamflowReading struct {
	SiteID        string    `json:"site_id"`
	Datetime      time.Time `json:"datetime"`
	StreamflowCFS float64   `json:"streamflow_cfs"`
	Qualifiers    string    `json:"qualifiers"` // NWIS qualifier codes, comma-joined (e.g. "P" provisional)
}

// ForcingRecord is one hourly weather forcing observation for a coordinate.
// Field names follow the pipeline's short variable names; the Open-Meteo
// adapter maps them from the API's names.
type ForcingRecord struct {
	Longitude     float64   `json:"longitude"`
	Latitude      float64   `json:"latitude"`
	Datetime      time.Time `json:"datetime"`
	Prcp          float64   `json:"prcp"`           // precipitation total (mm)
	Temp          float64   `json:"temp"`           // 2m air temperature (degC)
	Humidity      float64   `json:"humidity"`       // 2m relative humidity (%)
	WindSpeed     float64   `json:"wind_speed"`     // 10m wind speed (m/s)
	WindDirection float64   `json:"wind_direction"` // 10m wind direction (deg)
	Rsds          float64   `json:"rsds"`           // downward shortwave radiation (W/m^2)
	Pet           float64   `json:"pet"`            // FAO reference evapotranspiration (mm)
}

// Coordinate is a WGS-84 longitude/latitude pair, in that order, matching
// the (lon, lat) convention the extraction services use.
type Coordinate struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// BasinCharacteristics holds NLDI local catchment characteristics for a site.
type BasinCharacteristics struct {
	SiteID string             `json:"site_id"`
	ComID  int64              `json:"comid"`
	Values map[string]float64 `json:"values"` // characteristic id -> value, e.g. "CAT_BFI" -> 52.1
}

// RunEvent describes the outcome of one pipeline job, published to the
// optional run-events topic for downstream consumers.
type RunEvent struct {
	Job             string    `json:"job"`
	RunID           string    `json:"run_id"`
	Status          string    `json:"status"` // "ok" or "error"
	Error           string    `json:"error,omitempty"`
	RecordsFetched  int       `json:"records_fetched"`
	RecordsInserted int       `json:"records_inserted"`
	Watermark       time.Time `json:"watermark,omitzero"`
	Incremental     bool      `json:"incremental"`
	StartedAt       time.Time `json:"started_at"`
	Duration        float64   `json:"duration_seconds"`
}
