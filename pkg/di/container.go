// Package di provides dependency injection container
package di

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ssargent/basekv/pkg/config"
	"github.com/ssargent/basekv/pkg/metrics"
	"github.com/ssargent/basekv/pkg/store"
)

// StoreFactory creates and opens stores
type StoreFactory interface {
	// OpenStore builds a store from cfg and replays its log
	OpenStore(cfg *config.Config, logger *logrus.Logger) (*store.KVStore, *store.ReplayResult, error)
}

// DefaultStoreFactory opens stores that share one set of collectors
type DefaultStoreFactory struct {
	metrics *metrics.Metrics
}

// NewStoreFactory creates a store factory reporting to m (which may be nil)
func NewStoreFactory(m *metrics.Metrics) StoreFactory {
	return &DefaultStoreFactory{metrics: m}
}

// OpenStore builds a store from cfg and replays its log
func (f *DefaultStoreFactory) OpenStore(cfg *config.Config, logger *logrus.Logger) (*store.KVStore, *store.ReplayResult, error) {
	kv, err := store.NewKVStore(cfg.StoreConfig(logger, f.metrics))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	result, err := kv.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return kv, result, nil
}

// Container holds all the dependencies for the application
type Container struct {
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	storeFactory StoreFactory
}

// NewContainer creates a new dependency injection container with a private
// metrics registry
func NewContainer() *Container {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	return &Container{
		registry:     registry,
		metrics:      m,
		storeFactory: NewStoreFactory(m),
	}
}

// GetStoreFactory returns the store factory
func (c *Container) GetStoreFactory() StoreFactory {
	return c.storeFactory
}

// SetStoreFactory allows overriding the store factory (for testing)
func (c *Container) SetStoreFactory(factory StoreFactory) {
	c.storeFactory = factory
}

// GetRegistry returns the registry the store collectors are registered with
func (c *Container) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetMetrics returns the shared collectors
func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}
