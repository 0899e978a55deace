package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Writer(&buf))
	require.NoError(t, err)

	logger.With("component", "test").Info("hello", "rows", 24)
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, float64(24), rec["rows"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_DebugText(t *testing.T) {
	var buf bytes.Buffer
	logger := Must(Writer(&buf), Debug(), Text())

	logger.Debug("visible", "k", "v")

	assert.Contains(t, buf.String(), "msg=visible")
	assert.Contains(t, buf.String(), "k=v")
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ptyhost.log")

	logger, err := New(File(path))
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, logger.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "to file"))
}

func TestFile_MissingPath(t *testing.T) {
	_, err := New(File(""))
	assert.Error(t, err)
}

func TestSentry_EmptyDSN(t *testing.T) {
	logger, err := New(Sentry(""), Writer(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
