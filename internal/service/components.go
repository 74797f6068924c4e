// File: internal/service/components.go
package service

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/orchestrator"
	"github.com/xkilldash9x/mender/internal/store"
)

// poolCloser is satisfied by *pgxpool.Pool.
type poolCloser interface {
	Close()
}

// Components holds everything a driver needs to run repairs.
// It centralizes the lifecycle of the shared resources behind the pipeline.
type Components struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	// Store is nil when no database is configured.
	Store *store.Store

	Browser io.Closer
	LLM     schemas.LLMClient
	Cache   io.Closer
	DBPool  poolCloser
}

// Shutdown releases the shared resources. It is safe to call on a partially
// initialized Components.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// The browser goes first; an in-flight validation may still hold a tab.
	if c.Browser != nil {
		if err := c.Browser.Close(); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser shut down.")
		}
	}

	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Error closing validation cache client.", zap.Error(err))
		} else {
			logger.Debug("Validation cache client closed.")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
