package identity

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dash-sync/pkg/config"
)

type memoryStore struct {
	id string
}

func (m *memoryStore) GetDeviceID(context.Context) (string, error) { return m.id, nil }

func (m *memoryStore) SetDeviceID(_ context.Context, id string) error {
	m.id = id
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestDeviceID(t *testing.T) {
	t.Run("generates once and reuses the file copy", func(t *testing.T) {
		cfg := &config.IdentityConfig{Path: filepath.Join(t.TempDir(), "device_id")}

		first, err := DeviceID(context.Background(), cfg, nil, quietLogger())
		require.NoError(t, err)
		require.NotEmpty(t, first)

		second, err := DeviceID(context.Background(), cfg, nil, quietLogger())
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("store copy wins when present", func(t *testing.T) {
		cfg := &config.IdentityConfig{Path: filepath.Join(t.TempDir(), "device_id")}
		st := &memoryStore{id: "dev-stored"}

		id, err := DeviceID(context.Background(), cfg, st, quietLogger())
		require.NoError(t, err)
		require.Equal(t, "dev-stored", id)

		// The file copy is untouched; nothing needed generating.
		_, statErr := os.Stat(cfg.Path)
		require.True(t, os.IsNotExist(statErr))
	})

	t.Run("file copy backfills an empty store", func(t *testing.T) {
		cfg := &config.IdentityConfig{Path: filepath.Join(t.TempDir(), "device_id")}
		require.NoError(t, os.WriteFile(cfg.Path, []byte("dev-from-file\n"), 0o600))
		st := &memoryStore{}

		id, err := DeviceID(context.Background(), cfg, st, quietLogger())
		require.NoError(t, err)
		require.Equal(t, "dev-from-file", id)
		require.Equal(t, "dev-from-file", st.id)
	})

	t.Run("generated id lands in both file and store", func(t *testing.T) {
		cfg := &config.IdentityConfig{Path: filepath.Join(t.TempDir(), "device_id")}
		st := &memoryStore{}

		id, err := DeviceID(context.Background(), cfg, st, quietLogger())
		require.NoError(t, err)
		require.Equal(t, id, st.id)

		data, err := os.ReadFile(cfg.Path)
		require.NoError(t, err)
		require.Equal(t, id, strings.TrimSpace(string(data)))
	})
}
