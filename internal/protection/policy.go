// Package protection implements the production-protection policy engine.
//
// A resource is protected when any of its tags match a protection rule: an
// Environment tag with a protected value (production, prod, critical by
// default), a Protected tag set to a truthy value, or a custom tag pair from
// configuration. Destructive actions against protected resources require a
// valid override code; everything else passes through.
//
// The engine is pure: it evaluates tags that were already fetched. It never
// calls AWS, never touches the database, and holds only immutable state built
// at startup, so a single instance is safe for concurrent use.
package protection

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/cloud-guardrail/cloud-guardrail/internal/config"
)

// Tag keys with built-in semantics.
const (
	TagEnvironment = "Environment"
	TagProtected   = "Protected"
)

// Decision is the outcome of a policy evaluation for one resource.
type Decision struct {
	// Allowed reports whether the action may proceed.
	Allowed bool
	// Protected reports whether the resource matched a protection rule,
	// independent of whether an override let the action through.
	Protected bool
	// Reason explains a denial, or which rule matched on an allowed override.
	// Empty when the resource is unprotected.
	Reason string
}

// Engine evaluates the protection policy. Construct with NewEngine.
type Engine struct {
	rules         []config.ProtectionRule
	envValues     map[string]struct{}
	destructive   map[string]struct{}
	overrideCode  string
	overrideHash  string
	caseSensitive bool
}

// NewEngine builds a policy engine from configuration. The configuration is
// copied; later mutation of cfg does not affect the engine.
func NewEngine(cfg config.ProtectionConfig) *Engine {
	e := &Engine{
		rules:         append([]config.ProtectionRule(nil), cfg.Rules...),
		envValues:     make(map[string]struct{}, len(cfg.EnvironmentValues)),
		destructive:   make(map[string]struct{}, len(cfg.DestructiveActions)),
		overrideCode:  cfg.OverrideCode,
		overrideHash:  cfg.OverrideCodeHash,
		caseSensitive: cfg.CaseSensitive,
	}
	for _, v := range cfg.EnvironmentValues {
		e.envValues[strings.ToLower(v)] = struct{}{}
	}
	for _, a := range cfg.DestructiveActions {
		e.destructive[strings.ToLower(a)] = struct{}{}
	}
	return e
}

// IsDestructive reports whether the action belongs to the configured
// destructive set.
func (e *Engine) IsDestructive(action string) bool {
	_, ok := e.destructive[strings.ToLower(action)]
	return ok
}

// IsProtected reports whether the tags match any protection rule, with the
// matching rule described in the second return value.
func (e *Engine) IsProtected(tags map[string]string) (bool, string) {
	if env, ok := tags[TagEnvironment]; ok {
		if _, protected := e.envValues[strings.ToLower(env)]; protected {
			return true, fmt.Sprintf("%s=%s", TagEnvironment, env)
		}
	}

	if v, ok := tags[TagProtected]; ok && isTruthy(v) {
		return true, fmt.Sprintf("%s=%s", TagProtected, v)
	}

	for _, rule := range e.rules {
		v, ok := tags[rule.Key]
		if !ok {
			continue
		}
		if e.valueMatches(v, rule.Value) {
			return true, fmt.Sprintf("%s=%s", rule.Key, v)
		}
	}

	return false, ""
}

// VerifyOverride checks the supplied override code against the configured
// secret. The bcrypt hash takes precedence when both are set; the plaintext
// comparison is constant-time. When no secret is configured at all, no
// override can ever succeed.
func (e *Engine) VerifyOverride(code string) bool {
	if code == "" {
		return false
	}
	if e.overrideHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(e.overrideHash), []byte(code)) == nil
	}
	if e.overrideCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(e.overrideCode), []byte(code)) == 1
}

// Evaluate applies the full policy for one resource: a destructive action
// against a protected resource is allowed only with a valid override code.
// Non-destructive actions and unprotected resources always pass.
func (e *Engine) Evaluate(action string, tags map[string]string, overrideCode string) Decision {
	if !e.IsDestructive(action) {
		return Decision{Allowed: true}
	}

	protected, match := e.IsProtected(tags)
	if !protected {
		return Decision{Allowed: true}
	}

	if e.VerifyOverride(overrideCode) {
		return Decision{Allowed: true, Protected: true, Reason: fmt.Sprintf("override accepted for protected resource (%s)", match)}
	}

	if overrideCode != "" {
		return Decision{Protected: true, Reason: fmt.Sprintf("invalid override code for protected resource (%s)", match)}
	}
	return Decision{Protected: true, Reason: fmt.Sprintf("resource is protected (%s); override code required for %s", match, action)}
}

// valueMatches compares a tag value against a rule value, honoring the
// case-sensitivity setting. An empty rule value matches any tag value, so a
// rule can protect on tag presence alone.
func (e *Engine) valueMatches(tagValue, ruleValue string) bool {
	if ruleValue == "" {
		return true
	}
	if e.caseSensitive {
		return tagValue == ruleValue
	}
	return strings.EqualFold(tagValue, ruleValue)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1":
		return true
	}
	return false
}
