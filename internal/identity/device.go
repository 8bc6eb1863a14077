package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dash-sync/pkg/config"
)

// Store is the optional snapshot store holding the device identifier, so the
// same identity survives even when the file is lost.
type Store interface {
	GetDeviceID(ctx context.Context) (string, error)
	SetDeviceID(ctx context.Context, id string) error
}

// DeviceID returns the persistent device identifier, generating and storing
// a new one only when absent. The identifier is read-mostly and survives
// restarts so the backend can correlate sessions from the same machine.
// When a store is provided it is consulted first and kept in sync with the
// file copy.
func DeviceID(ctx context.Context, cfg *config.IdentityConfig, st Store, log *logrus.Logger) (string, error) {
	if st != nil {
		if id, err := st.GetDeviceID(ctx); err != nil {
			log.WithError(err).Warn("Device id store lookup failed, falling back to file")
		} else if id != "" {
			return id, nil
		}
	}

	path := cfg.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".dash-sync", "device_id")
	}

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			saveToStore(ctx, st, id, log)
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	saveToStore(ctx, st, id, log)

	log.WithField("device_id", id).Debug("Generated new device identifier")
	return id, nil
}

func saveToStore(ctx context.Context, st Store, id string, log *logrus.Logger) {
	if st == nil {
		return
	}
	if err := st.SetDeviceID(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to store device id")
	}
}
