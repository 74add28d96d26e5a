package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrocast/flood-elt/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	started := time.Date(2026, 8, 19, 15, 10, 0, 0, time.UTC)
	event := domain.RunEvent{
		Job:             "streamflow",
		RunID:           "run-7f3a",
		Status:          "ok",
		RecordsFetched:  1200,
		RecordsInserted: 1180,
		Incremental:     true,
		StartedAt:       started,
		Duration:        4.2,
	}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)

	assert.Equal(t, []byte("streamflow"), msg.Key)
	assert.Contains(t, string(msg.Value), `"job":"streamflow"`)
	assert.Contains(t, string(msg.Value), `"records_inserted":1180`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "status", msg.Headers[0].Key)
	assert.Equal(t, []byte("ok"), msg.Headers[0].Value)
	assert.Equal(t, "started_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(started.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeToMessage_ErrorEvent(t *testing.T) {
	event := domain.RunEvent{
		Job:       "weather_forcing",
		RunID:     "run-9c21",
		Status:    "error",
		Error:     "open-meteo: rate limited after 3 attempts",
		StartedAt: time.Date(2026, 8, 19, 16, 0, 0, 0, time.UTC),
	}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)

	assert.Contains(t, string(msg.Value), `"error":"open-meteo: rate limited after 3 attempts"`)
	assert.Equal(t, []byte("error"), msg.Headers[0].Value)
}

func TestSerializeToMessage_OmitsZeroWatermark(t *testing.T) {
	msg, err := serializeToMessage(domain.RunEvent{
		Job:       "site_metadata",
		Status:    "ok",
		StartedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Value), "watermark")

	withMark, err := serializeToMessage(domain.RunEvent{
		Job:       "streamflow",
		Status:    "ok",
		Watermark: time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
		StartedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Contains(t, string(withMark.Value), `"watermark":"2026-08-18T00:00:00Z"`)
}
