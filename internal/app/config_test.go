package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := NewConfig(Config{PackageName: "zlib", IndexPath: "chan.yaml"})
		require.NoError(t, err)
		assert.Equal(t, "zlib", cfg.PackageName)
		assert.Equal(t, "1", cfg.Revision, "revision should default to 1")
	})

	t.Run("explicit revision kept", func(t *testing.T) {
		cfg, err := NewConfig(Config{PackageName: "zlib", IndexPath: "chan.yaml", Revision: "7"})
		require.NoError(t, err)
		assert.Equal(t, "7", cfg.Revision)
	})

	t.Run("missing package name", func(t *testing.T) {
		_, err := NewConfig(Config{IndexPath: "chan.yaml"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PackageName")
	})

	t.Run("missing index path", func(t *testing.T) {
		_, err := NewConfig(Config{PackageName: "zlib"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "IndexPath")
	})
}
