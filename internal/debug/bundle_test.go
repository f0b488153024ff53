package debug

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBundleWritesJSONFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "bundle.json")
	bundle := NewBundle()
	bundle.Version = map[string]any{"version": "1.2.3"}
	bundle.Storage = map[string]any{"courses": 3}
	bundle.AddCheck("database", nil, "schema version 1")

	require.NoError(t, WriteBundle(path, bundle))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Bundle
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, bundle.GOOS, decoded.GOOS)
	require.Equal(t, "1.2.3", decoded.Version["version"])
	require.Equal(t, float64(3), decoded.Storage["courses"])
	require.Equal(t, []Check{{Name: "database", OK: true, Message: "schema version 1"}}, decoded.Checks)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteBundleRequiresOutputPath(t *testing.T) {
	t.Parallel()

	err := WriteBundle("", NewBundle())
	require.Error(t, err)
	require.Contains(t, err.Error(), "output path is required")
}

func TestBundleHealthy(t *testing.T) {
	t.Parallel()

	bundle := NewBundle()
	require.True(t, bundle.Healthy())

	bundle.AddCheck("config", nil, "loaded")
	require.True(t, bundle.Healthy())

	bundle.AddCheck("audit_log", errors.New("permission denied"), "writable")
	require.False(t, bundle.Healthy())
	require.Equal(t, "permission denied", bundle.Checks[1].Message)
}
