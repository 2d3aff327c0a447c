// Package policy decides which apps are exempt from enforcement by
// gathering facts and evaluating them with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/goodtune/appwarden/internal/policy/opa"
	"github.com/rs/zerolog"
)

// Config holds the facts the exemption policy sees.
type Config struct {
	PolicyDir       string
	ExemptApps      []string
	LauncherPattern string
	SelfAppID       string
}

// Engine implements usage.Exemptor.
type Engine struct {
	opaEngine *opa.Engine
	config    Config
	logger    zerolog.Logger
}

// NewEngine creates a new exemption engine
func NewEngine(config Config, logger zerolog.Logger) (*Engine, error) {
	opaEngine, err := opa.NewEngine(opa.Config{PolicyDir: config.PolicyDir}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	return &Engine{
		opaEngine: opaEngine,
		config:    config,
		logger:    logger.With().Str("component", "policy").Logger(),
	}, nil
}

// Exempt reports whether appID is never enforced. Callers treat an error
// as exempt.
func (e *Engine) Exempt(ctx context.Context, appID string) (bool, error) {
	exempt, err := e.opaEngine.EvaluateExempt(ctx, e.buildInput(appID))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate exemption for %s: %w", appID, err)
	}

	if exempt {
		e.logger.Debug().Str("app_id", appID).Msg("App is exempt")
	}
	return exempt, nil
}

// Reload re-reads the policy directory.
func (e *Engine) Reload() error {
	return e.opaEngine.Reload()
}

// Modules lists the loaded policy modules.
func (e *Engine) Modules() []string {
	return e.opaEngine.Modules()
}

// buildInput builds OPA input for an exemption check
func (e *Engine) buildInput(appID string) map[string]interface{} {
	exemptApps := make([]interface{}, 0, len(e.config.ExemptApps))
	for _, id := range e.config.ExemptApps {
		exemptApps = append(exemptApps, id)
	}

	return map[string]interface{}{
		"app_id":           appID,
		"self_app_id":      e.config.SelfAppID,
		"launcher_pattern": e.config.LauncherPattern,
		"exempt_apps":      exemptApps,
	}
}
