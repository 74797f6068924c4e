// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/analysis/static"
	"github.com/xkilldash9x/mender/internal/classifier"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/genfix"
	"github.com/xkilldash9x/mender/internal/injector"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/orchestrator"
	"github.com/xkilldash9x/mender/internal/rules"
	"github.com/xkilldash9x/mender/internal/sandbox"
)

// ComponentFactory creates the set of components a driver needs.
// Commands depend on this interface so their logic can be tested without a
// browser, a database or a model endpoint.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

func validationEnabled(cfg config.OrchestratorConfig) bool {
	return cfg.ValidateAfterDeterministic || cfg.ValidateAfterLLM
}

// Create wires the pipeline. Optional resources are only acquired when the
// configuration needs them: the database when a URL is set, the browser when
// validation is enabled, Redis when the cache is enabled and the model client
// when generative attempts are allowed.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	components := &Components{Registry: prometheus.NewRegistry()}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	components.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	components.Metrics = observability.NewMetrics(components.Registry)

	// 2. Run store
	if cfg.Database.URL != "" {
		runStore, pool, err := InitializeStore(ctx, cfg.Database, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Store = runStore
		components.DBPool = pool
	} else {
		logger.Debug("No database configured; runs will not be persisted.")
	}

	// 3. Sandbox
	var (
		validator schemas.SandboxValidator
		probe     schemas.PageProbe
	)
	if validationEnabled(cfg.Orchestrator) {
		browser := sandbox.NewBrowser(cfg.Browser, cfg.Sandbox, logger)
		components.Browser = browser

		live := sandbox.NewValidator(browser, cfg.Sandbox, logger, sandbox.WithMetrics(components.Metrics))
		validator, probe = live, live
		logger.Debug("Sandbox validator initialized.")

		if cfg.Cache.Enabled {
			client, err := InitializeCache(ctx, cfg.Cache, logger)
			if err != nil {
				initializationErr = err
				return nil, initializationErr
			}
			components.Cache = client
			validator = sandbox.NewCachingValidator(live, client, cfg.Cache.TTL,
				cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight, logger, components.Metrics)
		}
	} else if cfg.Cache.Enabled {
		logger.Info("Validation cache is enabled but validation is off; not connecting to Redis.")
	}

	// 4. Classification and deterministic repair
	cls, err := classifier.New(logger, static.NewAnalyzer(logger), probe)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create classifier: %w", err)
		return nil, initializationErr
	}
	inj := injector.New(logger, cfg.Injector.Strict)

	// 5. Generative fallback
	var fixer schemas.GenerativeFixer
	if cfg.Orchestrator.MaxLLMAttempts > 0 {
		llm, err := InitializeLLMClient(ctx, cfg.LLM, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.LLM = llm
		fixer = genfix.New(llm, inj, cfg.LLM, logger)
		logger.Debug("Generative fixer initialized.")
	}

	// 6. Orchestrator
	orch, err := orchestrator.New(cfg.Orchestrator, logger, orchestrator.Collaborators{
		Classifier: cls,
		Rules:      rules.New(),
		Injector:   inj,
		Validator:  validator,
		Fixer:      fixer,
	}, orchestrator.WithRecorder(components.Metrics))
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	logger.Info("All components initialized successfully.", zap.Stringer("orchestrator", orch))
	return components, nil
}
