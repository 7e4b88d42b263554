package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rmk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  backend: postgres
  dsn: postgres://localhost/rmk
vector:
  backend: qdrant
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Graph.Backend)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	assert.Equal(t, "cosine", cfg.Vector.Metric)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Ingestion.MaxWorkers)
	assert.Equal(t, 1024, cfg.Ingestion.QueueDepth)
	assert.Equal(t, 0.7, cfg.Consult.Alpha)
	assert.Equal(t, 20, cfg.Reflection.SampleN)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
