package cache

import (
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Defaults(t *testing.T) {
	c, err := NewBuilder(1 << 30).Build()
	require.NoError(t, err)

	assert.Equal(t, DefaultPageSize, c.PageSize())
	assert.Equal(t, int64(1<<30), c.Capacity())
	assert.Equal(t, CompressionNone, c.Compression())
	assert.Len(t, c.ShardStats(), 1)
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name string
		b    *InMemoryCacheBuilder
	}{
		{"zero capacity", NewBuilder(0)},
		{"negative page size", NewBuilder(1024).PageSize(-1)},
		{"zero metadata capacity", NewBuilder(1024).MetadataCapacity(0)},
		{"negative idle", NewBuilder(1024).TimeToIdle(-time.Second)},
		{"unknown compression", NewBuilder(1024).Compression(Compression(9))},
		{"compressed page too large", NewBuilder(1 << 40).PageSize(1 << 33).Compression(CompressionLZ4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestWithSysMemory(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		_, err := WithSysMemory(0.1).Build()
		assert.ErrorIs(t, err, ErrInvalidConfig)
		return
	}

	c, err := WithSysMemory(0.01).PageSize(1 << 20).Build()
	require.NoError(t, err)
	assert.Positive(t, c.Capacity())

	total, err := totalSystemMemory()
	require.NoError(t, err)
	assert.InDelta(t, float64(total)*0.01, float64(c.Capacity()), 1)
}

func TestConfig_JSON(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{
		"capacity": "64MiB",
		"pageSize": "1 MiB",
		"timeToIdle": "10m",
		"metadataCapacity": 500,
		"shards": 4,
		"compression": "zstd"
	}`), &cfg)
	require.NoError(t, err)

	assert.Equal(t, Size(64<<20), cfg.Capacity)
	assert.Equal(t, Size(1<<20), cfg.PageSize)
	assert.Equal(t, Duration(10*time.Minute), cfg.TimeToIdle)
	assert.Equal(t, CompressionZSTD, cfg.Compression)

	b := cfg.Builder()
	assert.Equal(t, time.Duration(0), b.metadataTimeToIdle)

	c, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), c.Capacity())
	assert.Equal(t, int64(1<<20), c.PageSize())
	assert.Equal(t, CompressionZSTD, c.Compression())
	assert.Len(t, c.ShardStats(), 4)
}

func TestConfig_Invalid(t *testing.T) {
	var cfg Config
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"capacity": "lots"}`), &cfg), ErrInvalidConfig)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"timeToIdle": "soon"}`), &cfg), ErrInvalidConfig)
}

func TestSize_String(t *testing.T) {
	assert.Equal(t, "8.0 MiB", Size(DefaultPageSize).String())

	text, err := Size(1536).MarshalText()
	require.NoError(t, err)

	var back Size
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, Size(1536), back)
}
