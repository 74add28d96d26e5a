package nwis

import (
	"strconv"
	"strings"
	"time"

	"github.com/hydrocast/flood-elt/internal/domain"
)

// WaterML 1.1 JSON response types, reduced to the fields the pipeline reads.

type waterML struct {
	Value struct {
		TimeSeries []timeSeries `json:"timeSeries"`
	} `json:"value"`
}

type timeSeries struct {
	SourceInfo struct {
		SiteCode []codedValue `json:"siteCode"`
	} `json:"sourceInfo"`
	Values []valueBlock `json:"values"`
}

type valueBlock struct {
	Value []observation `json:"value"`
}

type observation struct {
	Value      string   `json:"value"`
	Qualifiers []string `json:"qualifiers"`
	DateTime   string   `json:"dateTime"`
}

type codedValue struct {
	Value string `json:"value"`
}

// readings flattens the WaterML payload into domain readings. NWIS encodes
// missing observations as the sentinel "-999999"; those and rows with
// unparseable values or timestamps are skipped and counted.
func (w waterML) readings() ([]domain.StreamflowReading, int) {
	var out []domain.StreamflowReading
	skipped := 0

	for _, ts := range w.Value.TimeSeries {
		if len(ts.SourceInfo.SiteCode) == 0 {
			continue
		}
		siteID := ts.SourceInfo.SiteCode[0].Value

		for _, block := range ts.Values {
			for _, obs := range block.Value {
				flow, err := strconv.ParseFloat(obs.Value, 64)
				if err != nil || flow <= -999999 {
					skipped++
					continue
				}
				at, err := time.Parse(time.RFC3339, obs.DateTime)
				if err != nil {
					skipped++
					continue
				}
				out = append(out, domain.StreamflowReading{
					SiteID:        siteID,
					Datetime:      at.UTC(),
					StreamflowCFS: flow,
					Qualifiers:    strings.Join(obs.Qualifiers, ","),
				})
			}
		}
	}
	return out, skipped
}
