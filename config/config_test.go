package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/raqe/errs"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.QueryGeneration.AllowWrite)
	assert.Equal(t, 3, cfg.QueryGeneration.MaxRetries)
	assert.Equal(t, 0.1, cfg.QueryGeneration.Temperature)
	assert.Equal(t, 100, cfg.QueryExecution.Limit)
	assert.Equal(t, 1000, cfg.QueryExecution.MaxLimit)
	assert.True(t, cfg.QueryExecution.ReadOnly)
	assert.Equal(t, 10, cfg.ResponseGeneration.SampleRows)
	assert.Equal(t, 5, cfg.AutoDiscovery.MaxDepth)
	assert.Equal(t, 5, cfg.Resilience.CircuitMaxFailures)
}

func TestLoadMergesOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raqe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
query_generation:
  allow_write: true
  max_retries: 7
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.QueryGeneration.AllowWrite)
	assert.Equal(t, 7, cfg.QueryGeneration.MaxRetries)
}

func TestLoadMissingFileReturnsConfigurationError(t *testing.T) {
	_, err := Load("/nonexistent/raqe.yaml")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Configuration))
}
