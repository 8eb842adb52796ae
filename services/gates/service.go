// Package gates implements the pre-call and post-call policy checkpoints.
// Every evaluation resolves to a concrete GateDecision; a broken rule file
// fails at load, never mid-decision.
package gates

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/upb/redlab/models"
	"github.com/upb/redlab/services"
	"github.com/upb/redlab/services/rulematch"
)

// GatesModeEnv overrides the rule file's default mode per process.
const GatesModeEnv = "GATES_MODE"

// GateRule is one pre_call or post_call rule. applies_if selects the calls
// it inspects, deny_if/warn_if decide the effect.
type GateRule struct {
	ID          string
	appliesIf   map[string]interface{}
	appliesCond *Condition
	DenyIf      *Condition
	WarnIf      *Condition
	denyReason  string
	warnReason  string
}

// applies reports whether the rule inspects this call at all.
func (r *GateRule) applies(text string, ctx models.Context) bool {
	if r.appliesCond != nil {
		return r.appliesCond.Holds(text, ctx)
	}
	return rulematch.Matches(r.appliesIf, ctx)
}

// Engine is a loaded gate rule set. Immutable after load; safe for
// concurrent readers.
type Engine struct {
	Version  string
	fileMode models.Decision
	PreCall  []GateRule
	PostCall []GateRule
	Limits   map[string]int

	defaultMode models.Decision
}

// DefaultMode returns the effective default decision for this engine.
func (e *Engine) DefaultMode() models.Decision {
	return e.defaultMode
}

// EvaluatePre gates a request before the model is called.
func (e *Engine) EvaluatePre(inputText string, ctx models.Context) models.GateDecision {
	return e.evaluate(e.PreCall, inputText, ctx)
}

// EvaluatePost gates a model response after the call.
func (e *Engine) EvaluatePost(outputText string, ctx models.Context) models.GateDecision {
	return e.evaluate(e.PostCall, outputText, ctx)
}

// evaluate scans rules in declaration order. The first deny returns
// immediately. The first warn is remembered but scanning continues, so a
// deny later in the list still wins. No hit falls through to the default
// decision.
func (e *Engine) evaluate(rules []GateRule, text string, ctx models.Context) models.GateDecision {
	var warn *models.GateDecision
	for i := range rules {
		rule := &rules[i]
		if !rule.applies(text, ctx) {
			continue
		}
		if rule.DenyIf.Holds(text, ctx) {
			return models.GateDecision{
				Decision:   models.DecisionDeny,
				ReasonCode: rule.denyReason,
				RuleID:     rule.ID,
			}
		}
		if warn == nil && rule.WarnIf.Holds(text, ctx) {
			warn = &models.GateDecision{
				Decision:   models.DecisionWarn,
				ReasonCode: rule.warnReason,
				RuleID:     rule.ID,
			}
		}
	}
	if warn != nil {
		return *warn
	}
	return models.GateDecision{
		Decision:   e.defaultMode,
		ReasonCode: "policy_default_" + string(e.defaultMode),
		RuleID:     models.DefaultRuleID,
	}
}

// MakeBudgetDecision turns a tracker's exhausted limit into a terminal deny.
func (e *Engine) MakeBudgetDecision(limitName string) models.GateDecision {
	return models.GateDecision{
		Decision:   models.DecisionDeny,
		ReasonCode: "budget_exhausted",
		RuleID:     "limit." + limitName,
	}
}

// Service loads gate rule files, caching parsed engines by path and mtime.
type Service struct {
	logger *zap.Logger
	cache  *Cache
}

// NewService creates a new gates Service instance
func NewService(logger *zap.Logger) *Service {
	return &Service{
		logger: logger,
		cache:  NewCache(),
	}
}

// ResetCache drops all cached engines.
func (s *Service) ResetCache() {
	s.cache.Clear()
}

// CacheStats returns cache statistics
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// LoadOption configures a Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	noCache bool
}

// WithoutCache bypasses the engine cache for one load.
func WithoutCache() LoadOption {
	return func(o *loadOptions) { o.noCache = true }
}

// Load parses a gate rule file into an Engine. The GATES_MODE environment
// override is re-read on every call, including cache hits, so tests and
// operators see mode changes immediately.
func (s *Service) Load(path string, opts ...LoadOption) (*Engine, error) {
	var options loadOptions
	for _, opt := range opts {
		opt(&options)
	}

	var engine *Engine
	if !options.noCache {
		engine = s.cache.Get(path)
	}
	if engine == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, services.NewDomainError(services.ErrorTypeNotFound,
					fmt.Sprintf("gate rules not found at %s", path), err)
			}
			return nil, services.WrapConfig(fmt.Sprintf("failed to read gate config %s", path), err)
		}
		engine, err = Parse(data)
		if err != nil {
			return nil, err
		}
		if !options.noCache {
			s.cache.Put(path, engine)
		}
		s.logger.Info("loaded gate rule set",
			zap.String("path", path),
			zap.String("version", engine.Version),
			zap.Int("pre_call", len(engine.PreCall)),
			zap.Int("post_call", len(engine.PostCall)))
	}

	mode, err := resolveDefaultMode(engine.fileMode)
	if err != nil {
		return nil, err
	}
	// shallow copy so cached engines stay mode-agnostic
	resolved := *engine
	resolved.defaultMode = mode
	return &resolved, nil
}

// resolveDefaultMode applies the environment override. "strict" is an
// operator alias for deny.
func resolveDefaultMode(fileMode models.Decision) (models.Decision, error) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(GatesModeEnv)))
	if raw == "" {
		return fileMode, nil
	}
	switch raw {
	case "allow":
		return models.DecisionAllow, nil
	case "warn":
		return models.DecisionWarn, nil
	case "deny", "strict":
		return models.DecisionDeny, nil
	}
	return "", services.NewConfigError("invalid %s value %q", GatesModeEnv, raw)
}

// Parse validates raw YAML bytes into an Engine.
func Parse(data []byte) (*Engine, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, services.WrapConfig("invalid YAML in gate config", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	for key := range raw {
		switch key {
		case "version", "defaults", "pre_call", "post_call", "limits":
		default:
			return nil, services.NewConfigError("gate config has unsupported key %q", key)
		}
	}
	if raw["version"] == nil {
		return nil, services.NewConfigError("gate config missing required 'version'")
	}

	engine := &Engine{
		Version:  models.Stringify(raw["version"]),
		fileMode: models.DecisionAllow,
		Limits:   map[string]int{},
	}

	if defaultsRaw, present := raw["defaults"]; present && defaultsRaw != nil {
		defaults, ok := toStringMap(defaultsRaw)
		if !ok {
			return nil, services.NewConfigError("gate config 'defaults' must be a mapping")
		}
		for key := range defaults {
			if key != "mode" {
				return nil, services.NewConfigError("gate defaults has unsupported key %q", key)
			}
		}
		mode := models.Normalize(defaults["mode"])
		switch mode {
		case "allow":
			engine.fileMode = models.DecisionAllow
		case "warn":
			engine.fileMode = models.DecisionWarn
		case "deny":
			engine.fileMode = models.DecisionDeny
		default:
			return nil, services.NewConfigError("gate defaults.mode must be allow, warn or deny, got %q", mode)
		}
	}

	var err error
	if engine.PreCall, err = parseRuleList(raw["pre_call"], "pre_call"); err != nil {
		return nil, err
	}
	if engine.PostCall, err = parseRuleList(raw["post_call"], "post_call"); err != nil {
		return nil, err
	}
	if engine.Limits, err = parseLimits(raw["limits"]); err != nil {
		return nil, err
	}
	return engine, nil
}

func parseRuleList(raw interface{}, stage string) ([]GateRule, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, services.NewConfigError("gate config %q must be a list", stage)
	}
	rules := make([]GateRule, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, entry := range list {
		rule, err := parseRule(entry, stage)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, services.NewConfigError("duplicate %s gate rule id %q", stage, rule.ID)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, *rule)
	}
	return rules, nil
}

func parseRule(entry interface{}, stage string) (*GateRule, error) {
	mapping, ok := toStringMap(entry)
	if !ok {
		return nil, services.NewConfigError("each %s gate rule must be a mapping", stage)
	}
	for key := range mapping {
		switch key {
		case "id", "applies_if", "deny_if", "warn_if", "reason_code":
		default:
			return nil, services.NewConfigError("%s gate rule has unsupported key %q", stage, key)
		}
	}
	rule := &GateRule{
		ID: strings.TrimSpace(models.Stringify(mapping["id"])),
	}
	if rule.ID == "" {
		return nil, services.NewConfigError("%s gate rule missing required 'id'", stage)
	}

	if appliesRaw, present := mapping["applies_if"]; present && appliesRaw != nil {
		applies, ok := toStringMap(appliesRaw)
		if !ok {
			return nil, services.NewConfigError(
				"applies_if for gate rule %q must be a mapping", rule.ID)
		}
		if isConditionShape(applies) {
			cond, err := parseCondition(applies, rule.ID, "applies_if")
			if err != nil {
				return nil, err
			}
			rule.appliesCond = cond
		} else {
			rule.appliesIf = applies
		}
	}

	var err error
	if denyRaw, present := mapping["deny_if"]; present && denyRaw != nil {
		if rule.DenyIf, err = parseCondition(denyRaw, rule.ID, "deny_if"); err != nil {
			return nil, err
		}
	}
	if warnRaw, present := mapping["warn_if"]; present && warnRaw != nil {
		if rule.WarnIf, err = parseCondition(warnRaw, rule.ID, "warn_if"); err != nil {
			return nil, err
		}
	}

	// reason codes default to the rule id
	rule.denyReason = rule.ID
	rule.warnReason = rule.ID
	if reasonRaw, present := mapping["reason_code"]; present && reasonRaw != nil {
		reasons, ok := toStringMap(reasonRaw)
		if !ok {
			return nil, services.NewConfigError(
				"reason_code for gate rule %q must be a mapping", rule.ID)
		}
		for key, value := range reasons {
			switch key {
			case "deny":
				rule.denyReason = strings.TrimSpace(models.Stringify(value))
			case "warn":
				rule.warnReason = strings.TrimSpace(models.Stringify(value))
			default:
				return nil, services.NewConfigError(
					"reason_code for gate rule %q has unsupported key %q", rule.ID, key)
			}
		}
	}
	return rule, nil
}

func parseLimits(raw interface{}) (map[string]int, error) {
	limits := map[string]int{}
	if raw == nil {
		return limits, nil
	}
	mapping, ok := toStringMap(raw)
	if !ok {
		return nil, services.NewConfigError("gate config 'limits' must be a mapping")
	}
	for name, value := range mapping {
		limit, ok := models.OptionalInt(value)
		if !ok {
			return nil, services.NewConfigError("gate limit %q must be an integer", name)
		}
		limits[name] = limit
	}
	return limits, nil
}

// toStringMap accepts both map shapes yaml.v3 can hand back.
func toStringMap(value interface{}) (map[string]interface{}, bool) {
	switch typed := value.(type) {
	case map[string]interface{}:
		return typed, true
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			converted[models.Stringify(key)] = item
		}
		return converted, true
	default:
		return nil, false
	}
}
