package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.log")

	log := New(Config{FilePath: path})
	log.Info("session started")
	log.Debug("dropped below file level")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"session started"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
	assert.NotContains(t, string(data), "dropped below file level")
}

func TestNew_DebugWithoutFile(t *testing.T) {
	log := New(Config{Debug: true})
	assert.NotNil(t, log)
	assert.True(t, log.Core().Enabled(-1))
}
