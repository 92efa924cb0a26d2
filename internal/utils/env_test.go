package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("GJ_STR", "x")
	t.Setenv("GJ_INT", "12")
	t.Setenv("GJ_BAD", "-3")
	t.Setenv("GJ_BOOL", "TRUE")
	t.Setenv("GJ_SEC", "7")

	assert.Equal(t, "x", EnvString("GJ_STR", "d"))
	assert.Equal(t, "d", EnvString("GJ_MISSING", "d"))
	assert.Equal(t, 12, EnvInt("GJ_INT", 1))
	assert.Equal(t, 1, EnvInt("GJ_BAD", 1))
	assert.True(t, EnvBool("GJ_BOOL"))
	assert.False(t, EnvBool("GJ_MISSING"))
	assert.Equal(t, 7*time.Second, EnvSeconds("GJ_SEC", time.Minute))
	assert.Equal(t, time.Minute, EnvSeconds("GJ_MISSING", time.Minute))
}

func TestPostgresDSN(t *testing.T) {
	t.Setenv("PG_DSN", "")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_USER", "gj")
	t.Setenv("PG_PASSWORD", "pw")
	dsn := BuildPostgresDSNFromEnv()
	assert.True(t, strings.HasPrefix(dsn, "postgres://gj:pw@db:5432/geojoin"), dsn)

	t.Setenv("PG_DSN", "postgres://override")
	assert.Equal(t, "postgres://override", BuildPostgresDSNFromEnv())
}

func TestRedisDisabledByDefault(t *testing.T) {
	t.Setenv("REDIS_ENABLE", "")
	assert.Nil(t, OpenRedisFromEnv())
	assert.Nil(t, OpenRedis("", "", 0))
}

func TestRedisFromEnvSelectsDB(t *testing.T) {
	t.Setenv("REDIS_ENABLE", "true")
	t.Setenv("REDIS_HOST", "10.0.0.5")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "3")
	rc := OpenRedisFromEnv()
	require.NotNil(t, rc)
	defer rc.Close()
	assert.Equal(t, "10.0.0.5:6380", rc.Options().Addr)
	assert.Equal(t, 3, rc.Options().DB)
}
