package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "file", c.Data.PriceSource)
	assert.Equal(t, models.StrategyBinarySeg, c.Analysis.Engine.Strategy)
	assert.Equal(t, 30, c.Analysis.Engine.MinSegment)
	assert.Equal(t, 90, c.Analysis.Correlator.WindowDays)
	assert.Equal(t, models.PolicyObservedOnly, c.Analysis.Calendar.Policy)
	assert.Equal(t, 2*time.Minute, c.Analysis.Engine.RunTimeout)
	require.NoError(t, c.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: test
server:
  port: 9090
data:
  date_layouts: ["2-Jan-06", "2006-01-02"]
analysis:
  engine:
    strategy: joint
    joint_count: 4
  calendar:
    policy: reindex-forward-fill
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, []string{"2-Jan-06", "2006-01-02"}, c.Data.DateLayouts)
	assert.Equal(t, models.StrategyJoint, c.Analysis.Engine.Strategy)
	assert.Equal(t, 4, c.Analysis.Engine.JointCount)
	assert.Equal(t, 4, c.Analysis.Engine.Chains, "unset keys keep defaults")
	assert.Equal(t, models.PolicyForwardFill, c.Analysis.Calendar.Policy)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "analysis:\n  engine:\n    chains: 1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "data:\n  event_source: http\n"))
	assert.ErrorContains(t, err, "event_url")

	_, err = Load(writeConfig(t, "data:\n  price_source: clickhouse\n"))
	assert.ErrorContains(t, err, "clickhouse.enabled")
}

func TestLoadWithEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("BRENT_SERVER_PORT", "7070")
	t.Setenv("BRENT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BRENT_SEED", "7")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Server.Port)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, uint64(7), c.Analysis.Engine.Seed)
}

func TestLoadWithEnv_MissingFile(t *testing.T) {
	c, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
}
