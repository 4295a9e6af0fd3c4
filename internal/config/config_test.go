package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, `
database:
  path: /tmp/test.db
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", c.Database.Path)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, "5m", c.Pipeline.StepTimeout)
	assert.Equal(t, ":8080", c.Server.Addr)
}

func TestLoadFullConfig(t *testing.T) {
	c, err := Load(writeConfig(t, `
database:
  path: data.db
catalog: products.yaml
logging:
  level: debug
pipeline:
  from_year: 2010
  to_year: 2020
  step_timeout: 90s
  keep_intermediate: true
  parallel: 4
server:
  addr: ":9000"
`))
	require.NoError(t, err)
	assert.Equal(t, 2010, c.Pipeline.FromYear)
	assert.Equal(t, 4, c.Pipeline.Parallel)
	assert.True(t, c.Pipeline.KeepIntermediate)
	assert.Equal(t, 90.0, c.StepTimeout().Seconds())
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	_, err := Load(writeConfig(t, `
pipeline:
  step_timeout: soon
`))
	require.Error(t, err)
}

func TestLoadRejectsInvertedYearRange(t *testing.T) {
	_, err := Load(writeConfig(t, `
pipeline:
  from_year: 2020
  to_year: 2010
`))
	require.Error(t, err)
}
