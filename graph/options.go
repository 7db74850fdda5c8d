package graph

import (
	"fmt"
	"time"
)

// Options is the resolved engine configuration. Zero values are valid: no
// step limit, no timeouts, no retries, no metrics and no cost tracking.
type Options struct {
	// MaxSteps bounds the number of node executions in one run. Zero
	// disables the limit.
	MaxSteps int

	// DefaultNodeTimeout applies to nodes without a policy timeout.
	DefaultNodeTimeout time.Duration

	// NodePolicies holds per-node timeout and retry settings.
	NodePolicies map[string]NodePolicy

	// Metrics receives step latency, retry, run and token metrics.
	Metrics *PrometheusMetrics

	// CostTracker receives token usage reported through RecordUsage.
	CostTracker *CostTracker
}

// Option configures an Engine. Options are applied in order by New.
//
// Example:
//
//	engine := graph.New(reducer, st, emitter,
//	    graph.WithMaxSteps(10),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts Options
}

// WithOptions replaces the whole configuration with opts. Later options
// still apply on top of it.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithMaxSteps limits a run to n node executions.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return fmt.Errorf("max steps must be >= 0, got %d", n)
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout bounds every node without its own policy timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return fmt.Errorf("default node timeout must be >= 0, got %v", d)
		}
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithNodePolicy sets the execution policy of a single node.
func WithNodePolicy(nodeID string, policy NodePolicy) Option {
	return func(cfg *engineConfig) error {
		if nodeID == "" {
			return fmt.Errorf("node policy requires a node ID")
		}
		if policy.RetryPolicy != nil {
			if err := policy.RetryPolicy.Validate(); err != nil {
				return fmt.Errorf("node %s: %w", nodeID, err)
			}
		}
		if cfg.opts.NodePolicies == nil {
			cfg.opts.NodePolicies = make(map[string]NodePolicy)
		}
		cfg.opts.NodePolicies[nodeID] = policy
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithCostTracker enables LLM cost accounting.
func WithCostTracker(tracker *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.CostTracker = tracker
		return nil
	}
}
