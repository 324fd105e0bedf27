//go:build unit

package db

import (
	"testing"
	"time"

	"yoyaku-core/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDBConfig() config.DBConfig {
	return config.DBConfig{
		Host:     "localhost",
		Port:     "5432",
		User:     "test",
		Password: "test",
		DBName:   "test_db",
		SSLMode:  "disable",
		TimeZone: "Asia/Tokyo",
	}
}

func TestBuildPoolConfig(t *testing.T) {
	t.Run("statement timeout is set in milliseconds", func(t *testing.T) {
		cfg := testDBConfig()
		cfg.StatementTimeout = 5 * time.Second

		poolCfg, err := buildPoolConfig(cfg)
		require.NoError(t, err)

		assert.Equal(t, "5000", poolCfg.ConnConfig.RuntimeParams["statement_timeout"])
	})

	t.Run("zero timeout leaves the server default", func(t *testing.T) {
		poolCfg, err := buildPoolConfig(testDBConfig())
		require.NoError(t, err)

		_, ok := poolCfg.ConnConfig.RuntimeParams["statement_timeout"]
		assert.False(t, ok)
	})
}
