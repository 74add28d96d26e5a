package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
)

// Fingerprint derives a short stable identifier for a table schema. Two
// tables with the same column names and types produce the same fingerprint
// regardless of column order, so a changed fingerprint on the published
// artifact means the dataset schema drifted and old rows cannot be merged.
func Fingerprint(columns []duck.Column) string {
	type col struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	cols := make([]col, len(columns))
	for i, c := range columns {
		cols[i] = col{Name: c.Name, Type: c.Type}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })

	payload, _ := json.Marshal(cols)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}
