package nwis

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/hydrocast/flood-elt/internal/domain"
)

// parseSiteRDB parses the USGS RDB (tab-delimited) site inventory format.
//
// RDB files open with '#' comment lines, then a tab-separated header row,
// then a "format" row of column widths (e.g. "5s<TAB>15s") which is skipped,
// then one data row per site. Missing numeric fields are blank strings.
func parseSiteRDB(data []byte) ([]domain.Site, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var header []string
	var sites []domain.Site
	seenFormatRow := false

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")

		if header == nil {
			header = fields
			continue
		}
		if !seenFormatRow {
			// Column-width row like "5s", "15s", "16n"; carries no data.
			seenFormatRow = true
			continue
		}

		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = strings.TrimSpace(fields[i])
			}
		}

		site := domain.Site{
			SiteID:           row["site_no"],
			StationName:      row["station_nm"],
			Latitude:         parseFloatOrZero(row["dec_lat_va"]),
			Longitude:        parseFloatOrZero(row["dec_long_va"]),
			DrainageAreaSqMi: parseFloatOrZero(row["drain_area_va"]),
			HUCCode:          row["huc_cd"],
			StateCode:        row["state_cd"],
			CountyCode:       row["county_cd"],
			Altitude:         parseFloatOrZero(row["alt_va"]),
		}
		if site.SiteID == "" {
			continue
		}
		sites = append(sites, site)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, errors.New("rdb payload has no header row")
	}
	return sites, nil
}

// parseFloatOrZero parses a string as float64, returning 0 on failure.
// NWIS leaves unknown numeric fields blank.
func parseFloatOrZero(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
