package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// Store keeps last-known snapshots in Redis so the bridge can serve state
// before the live channels finish connecting. Everything here is a cache of
// backend-owned data; losing it only costs a cold start.
type Store struct {
	client *redis.Client
	log    *logrus.Entry
	ttl    time.Duration
}

// New creates a Redis-backed snapshot store.
func New(cfg *config.RedisConfig, log *logrus.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Store{
		client: client,
		log:    log.WithField("component", "store"),
		ttl:    cfg.SnapshotTTL,
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Health checks the Redis connection.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveJob stores the last-known state of a job.
func (s *Store) SaveJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.client.Set(ctx, "job:"+job.ID, data, s.ttl).Err()
}

// GetJob loads the last-known state of a job; nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	data, err := s.client.Get(ctx, "job:"+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// SaveListing stores the last-known listing collection.
func (s *Store) SaveListing(ctx context.Context, kind string, jobs []models.Job) error {
	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}
	return s.client.Set(ctx, "listing:"+kind, data, s.ttl).Err()
}

// GetListing loads the last-known listing collection; nil when absent.
func (s *Store) GetListing(ctx context.Context, kind string) ([]models.Job, error) {
	data, err := s.client.Get(ctx, "listing:"+kind).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	var jobs []models.Job
	if err := json.Unmarshal([]byte(data), &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal listing: %w", err)
	}
	return jobs, nil
}

// GetDeviceID returns the stored device identifier, empty when absent.
func (s *Store) GetDeviceID(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, "device_id").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get device id: %w", err)
	}
	return id, nil
}

// SetDeviceID persists the device identifier without expiry.
func (s *Store) SetDeviceID(ctx context.Context, id string) error {
	return s.client.Set(ctx, "device_id", id, 0).Err()
}
