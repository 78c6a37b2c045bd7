package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineDefaults(t *testing.T) {
	eng, err := LoadEngine("")
	require.NoError(t, err)
	assert.Equal(t, 5, eng.Fingerprint.K)
	assert.Equal(t, 4, eng.Fingerprint.Window)
	assert.NoError(t, eng.Validate())
}

func TestLoadEngineFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `fingerprint:
  k: 7
  window: 6
compare:
  max_spans: 50
cache:
  ttl: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	eng, err := LoadEngine(path)
	require.NoError(t, err)
	assert.Equal(t, 7, eng.Fingerprint.K)
	assert.Equal(t, 6, eng.Fingerprint.Window)
	assert.Equal(t, 50, eng.Compare.MaxSpans)
	// untouched keys keep their defaults
	assert.Equal(t, 8, eng.Compare.MaxOccurrences)
	assert.Equal(t, 2*time.Hour, eng.Cache.TTL)
}

func TestLoadEngineRejectsOtherFormats(t *testing.T) {
	_, err := LoadEngine("engine.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("BLOB_BACKEND", BackendMemory)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.BlobBackend = BackendGridFS
	assert.Error(t, cfg.Validate(), "gridfs needs the mongo store")

	cfg.BlobBackend = BackendS3
	assert.Error(t, cfg.Validate(), "s3 needs a bucket")

	cfg.BlobBackend = BackendMemory
	cfg.ScanDispatch = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg.ScanDispatch = DispatchStream
	cfg.MaxFiles = 1
	assert.Error(t, cfg.Validate())
}

func TestValidateMongoRequiresURI(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendMongo)
	t.Setenv("MONGO_URI", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualError(t, cfg.Validate(), "MONGO_URI is required")
}
