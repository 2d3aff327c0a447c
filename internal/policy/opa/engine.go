package opa

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policies/*.rego
var builtinPolicies embed.FS

// ExemptQuery is the rule every policy set must define.
const ExemptQuery = "data.appwarden.exempt"

// Config holds OPA engine configuration
type Config struct {
	// PolicyDir holds extra .rego files evaluated alongside the built-in
	// policy. Empty means built-in only.
	PolicyDir string
}

// Engine wraps OPA rego engine for policy evaluation
type Engine struct {
	config Config
	logger zerolog.Logger

	mu          sync.RWMutex
	exemptQuery rego.PreparedEvalQuery
	modules     map[string]string
}

// NewEngine creates a new OPA engine
func NewEngine(config Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		config: config,
		logger: logger.With().Str("component", "opa").Logger(),
	}

	modules, err := e.loadPolicies()
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepareExemptQuery(modules)
	if err != nil {
		return nil, err
	}

	e.modules = modules
	e.exemptQuery = query

	e.logger.Info().
		Str("policy_dir", config.PolicyDir).
		Int("modules", len(modules)).
		Msg("OPA engine initialized")

	return e, nil
}

// loadPolicies returns the built-in modules plus every .rego file in the
// policy directory, keyed by file name.
func (e *Engine) loadPolicies() (map[string]string, error) {
	modules := make(map[string]string)

	builtin, err := builtinPolicies.ReadDir("policies")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in policies: %w", err)
	}
	for _, entry := range builtin {
		name := "policies/" + entry.Name()
		content, err := builtinPolicies.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in policy %s: %w", name, err)
		}
		modules["builtin/"+entry.Name()] = string(content)
	}

	if e.config.PolicyDir == "" {
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.config.PolicyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		// Parse early so a broken file is reported by name.
		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = string(content)
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

func prepareExemptQuery(modules map[string]string) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){rego.Query(ExemptQuery)}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare exempt query: %w", err)
	}
	return query, nil
}

// EvaluateExempt evaluates the exempt rule for input.
func (e *Engine) EvaluateExempt(ctx context.Context, input map[string]interface{}) (bool, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.exemptQuery
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("exempt query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Exempt query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, fmt.Errorf("no results from exempt query")
	}

	exempt, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("exempt result is not a boolean: %T", results[0].Expressions[0].Value)
	}
	return exempt, nil
}

// Modules returns the names of the loaded policy modules.
func (e *Engine) Modules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.modules))
	for name := range e.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload reloads all policies from disk. On failure the previous policies
// stay in effect.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")

	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	query, err := prepareExemptQuery(modules)
	if err != nil {
		return fmt.Errorf("failed to re-prepare exempt query: %w", err)
	}

	e.mu.Lock()
	e.modules = modules
	e.exemptQuery = query
	e.mu.Unlock()

	e.logger.Info().Msg("OPA policies reloaded successfully")

	return nil
}
