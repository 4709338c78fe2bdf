// Package engine evaluates security pattern policies with OPA Rego.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
)

const triggersQuery = "data.almaroof.security.triggers"

// DefaultPolicy reports a trigger for each window count above its threshold.
const DefaultPolicy = `package almaroof.security

triggers contains "failures" if {
	input.stats.failures > input.thresholds.failures
}

triggers contains "distinct_contexts" if {
	input.stats.distinct_contexts > input.thresholds.contexts
}

triggers contains "rate_limit_hits" if {
	input.stats.rate_limit_hits > input.thresholds.rate_limits
}
`

// OPADetector implements audit.Detector by evaluating a Rego policy over window stats.
// On evaluation failure it falls back to fixed thresholds so detection never goes dark.
type OPADetector struct {
	query      rego.PreparedEvalQuery
	thresholds audit.Thresholds
	fallback   audit.ThresholdDetector
}

// NewOPADetector compiles policy (DefaultPolicy when empty) and prepares the triggers query.
func NewOPADetector(ctx context.Context, policy string, thresholds audit.Thresholds) (*OPADetector, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"security.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile security policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(triggersQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare security policy: %w", err)
	}
	return &OPADetector{
		query:      pq,
		thresholds: thresholds,
		fallback:   audit.ThresholdDetector{Thresholds: thresholds},
	}, nil
}

// LoadPolicyFile reads a Rego policy from path. An empty path returns DefaultPolicy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read security policy %s: %w", path, err)
	}
	return string(b), nil
}

// Detect evaluates the policy. Triggers come back in the order failures, contexts, rate limits,
// followed by any policy-specific trigger names.
func (d *OPADetector) Detect(ctx context.Context, stats audit.WindowStats) (audit.Detection, error) {
	triggers, err := d.eval(ctx, stats)
	if err != nil {
		log.Printf("policy: security policy evaluation failed: %v, using thresholds", err)
		return d.fallback.Detect(ctx, stats)
	}
	return audit.Detection{Triggers: triggers}, nil
}

func (d *OPADetector) eval(ctx context.Context, stats audit.WindowStats) ([]string, error) {
	input := map[string]interface{}{
		"stats": map[string]interface{}{
			"window_seconds":    int64(stats.Window.Seconds()),
			"failures":          stats.Failures,
			"distinct_contexts": stats.DistinctContexts,
			"rate_limit_hits":   stats.RateLimitHits,
		},
		"thresholds": map[string]interface{}{
			"failures":    d.thresholds.Failures,
			"contexts":    d.thresholds.Contexts,
			"rate_limits": d.thresholds.RateLimits,
		},
	}
	rs, err := d.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		// An undefined set means no rule matched.
		return nil, nil
	}
	raw, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("triggers has type %T, want set of strings", rs[0].Expressions[0].Value)
	}
	found := make(map[string]bool, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("trigger %v is not a string", v)
		}
		found[s] = true
	}
	var out []string
	for _, name := range []string{audit.TriggerFailures, audit.TriggerContexts, audit.TriggerRateLimits} {
		if found[name] {
			out = append(out, name)
			delete(found, name)
		}
	}
	for _, v := range raw {
		if s := v.(string); found[s] {
			out = append(out, s)
			delete(found, s)
		}
	}
	return out, nil
}

// HealthCheck verifies the prepared policy evaluates against a quiet window. Returns nil on success.
func (d *OPADetector) HealthCheck(ctx context.Context) error {
	if _, err := d.eval(ctx, audit.WindowStats{}); err != nil {
		return fmt.Errorf("eval security policy: %w", err)
	}
	return nil
}
