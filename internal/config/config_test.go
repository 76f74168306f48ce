package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{"HISTORY_POLL_INTERVAL", "UPLOAD_MAX_BYTES", "KAFKA_BROKERS", "PREVIEW_WINDOW", "TEMPORAL_TARGET_HOST", "TEMPORAL_ADDRESS"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	assert.Equal(t, 3*time.Second, c.PollInterval)
	assert.Equal(t, int64(250<<20), c.UploadMaxBytes)
	assert.Equal(t, 100, c.PreviewWindow)
	assert.Equal(t, 5, c.RecommendationLimit)
	assert.Equal(t, 4, c.RecommendationConcurrency)
	assert.Equal(t, "localhost:7233", c.TemporalAddress)
	assert.Empty(t, c.KafkaBrokers)
}

func TestOverrides(t *testing.T) {
	t.Setenv("HISTORY_POLL_INTERVAL", "10")
	t.Setenv("INGEST_REQUEST_TIMEOUT", "1m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("PREVIEW_WINDOW", "-3")
	c := FromEnv()
	assert.Equal(t, 10*time.Second, c.PollInterval)
	assert.Equal(t, time.Minute, c.RequestTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 100, c.PreviewWindow)
}
