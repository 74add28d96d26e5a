package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
)

func TestFingerprint_StableAcrossColumnOrder(t *testing.T) {
	a := []duck.Column{
		{Name: "site_id", Type: "VARCHAR"},
		{Name: "observation_hour", Type: "TIMESTAMP"},
		{Name: "streamflow_cfs_mean", Type: "DOUBLE"},
	}
	b := []duck.Column{
		{Name: "streamflow_cfs_mean", Type: "DOUBLE"},
		{Name: "site_id", Type: "VARCHAR"},
		{Name: "observation_hour", Type: "TIMESTAMP"},
	}

	fa, fb := Fingerprint(a), Fingerprint(b)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 12)
}

func TestFingerprint_ChangesWithTypeOrColumn(t *testing.T) {
	base := []duck.Column{
		{Name: "site_id", Type: "VARCHAR"},
		{Name: "streamflow_cfs_mean", Type: "DOUBLE"},
	}
	retyped := []duck.Column{
		{Name: "site_id", Type: "VARCHAR"},
		{Name: "streamflow_cfs_mean", Type: "FLOAT"},
	}
	widened := append(base[:len(base):len(base)],
		duck.Column{Name: "temperature_c", Type: "DOUBLE"})

	assert.NotEqual(t, Fingerprint(base), Fingerprint(retyped))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(widened))
}
