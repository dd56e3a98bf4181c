package clickhouse

import (
	"context"
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, o := range []ClientOption{
		WithAddr("ch1", 9000),
		WithAddr("ch2", 0),
		WithAddr("", 9000),
		WithDatabase("markethub"),
		WithCredentials("default", "pw"),
		WithHTTP(true),
		WithCompression(true),
		WithMaxExecutionTime(30 * time.Second),
		WithAsyncInsert(true, false),
		WithPool(20, -1, 0),
	} {
		o(&cfg)
	}

	assert.Equal(t, []string{"ch1:9000", "ch2:9000"}, cfg.Addrs)
	assert.Equal(t, 20, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)

	opts := cfg.options()
	assert.Equal(t, ch.HTTP, opts.Protocol)
	assert.Equal(t, "markethub", opts.Auth.Database)
	assert.Equal(t, "pw", opts.Auth.Password)
	require.NotNil(t, opts.Compression)
	assert.Equal(t, ch.CompressionLZ4, opts.Compression.Method)
	assert.Equal(t, 30, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 0, opts.Settings["wait_for_async_insert"])
}

func TestNewClient_RequiresAddr(t *testing.T) {
	_, err := NewClient(context.Background(), WithDatabase("x"))
	assert.ErrorContains(t, err, "address")
}
