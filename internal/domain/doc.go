// Package domain models the hydrological and meteorological observations
// moved through the ELT pipeline.
//
// # Data Sources
//
// Streamflow observations come from the USGS National Water Information
// System (NWIS) instantaneous values service, which reports discharge in
// cubic feet per second (parameter code 00060) at 15-minute intervals.
// Site inventory comes from the NWIS site service, queried by Hydrologic
// Unit Code (HUC). The default HUC "10" is the Missouri River Basin, the
// largest tributary basin of the Mississippi.
//
// Weather forcing comes from the Open-Meteo historical archive API, which
// serves hourly reanalysis variables per coordinate. Variables use the
// pipeline's short names (prcp, temp, humidity, wind_speed, wind_direction,
// rsds, pet); the adapter maps them to Open-Meteo's names.
//
// Basin characteristics come from the USGS NLDI service. A NWIS site id is
// first resolved to an NHDPlus ComID (the stream-reach identifier NLDI keys
// characteristics on), then local catchment characteristics are fetched per
// ComID. Multiple gages can share a reach, so resolutions are cached.
//
// # Incremental Loading
//
// Time-series tables are loaded incrementally: each run fetches from the
// stored high watermark (MAX of the datetime column) minus a configurable
// overlap window, and rows are upserted on a key-column tuple so re-fetched
// overlap rows never duplicate. See the pipeline and duck packages.
package domain
