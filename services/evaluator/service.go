// Package evaluator scores model output against a versioned YAML rule set.
// The verdict it produces (judge rule id, success flag, failure reason) is
// what ends up in each trial row and drives every downstream pass rate.
package evaluator

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/upb/redlab/models"
	"github.com/upb/redlab/services"
)

// Evaluator holds a loaded rule set. Rules keep their declaration order;
// evaluation depends on it.
type Evaluator struct {
	Version string
	Rules   []Rule
}

// Service loads and applies evaluator rule sets
type Service struct {
	logger *zap.Logger
}

// NewService creates a new evaluator Service instance
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Load reads and validates a rule set from a YAML file
func (s *Service) Load(path string) (*Evaluator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound,
				fmt.Sprintf("evaluator rules not found at %s", path), err)
		}
		return nil, services.WrapConfig(fmt.Sprintf("failed to read evaluator config %s", path), err)
	}
	ev, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded evaluator rule set",
		zap.String("path", path),
		zap.String("version", ev.Version),
		zap.Int("rules", len(ev.Rules)))
	return ev, nil
}

// Parse validates raw YAML bytes into an Evaluator. Every structural problem
// is a configuration error: missing version, empty rules, unknown rule keys.
func Parse(data []byte) (*Evaluator, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, services.WrapConfig("invalid YAML in evaluator config", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	version, present := raw["version"]
	if !present || version == nil {
		return nil, services.NewConfigError("evaluator config missing required 'version'")
	}

	rulesRaw, ok := raw["rules"].([]interface{})
	if !ok || len(rulesRaw) == 0 {
		return nil, services.NewConfigError("evaluator config requires a non-empty 'rules' list")
	}

	rules := make([]Rule, 0, len(rulesRaw))
	for _, entry := range rulesRaw {
		mapping, ok := toStringMap(entry)
		if !ok {
			return nil, services.NewConfigError("each rule must be a mapping")
		}
		for key := range mapping {
			switch key {
			case "id", "applies_if", "success_if":
			default:
				return nil, services.NewConfigError("rule entry has unsupported key %q", key)
			}
		}
		ruleID := strings.TrimSpace(models.Stringify(mapping["id"]))
		if ruleID == "" {
			return nil, services.NewConfigError("rule missing required 'id'")
		}

		appliesIf, ok := toStringMap(mapping["applies_if"])
		if !ok || len(appliesIf) == 0 {
			return nil, services.NewConfigError("rule %q missing non-empty applies_if mapping", ruleID)
		}
		successIf, ok := toStringMap(mapping["success_if"])
		if !ok || len(successIf) == 0 {
			return nil, services.NewConfigError("rule %q missing non-empty success_if mapping", ruleID)
		}
		rules = append(rules, Rule{
			ID:        ruleID,
			AppliesIf: appliesIf,
			SuccessIf: successIf,
		})
	}

	return &Evaluator{
		Version: models.Stringify(raw["version"]),
		Rules:   rules,
	}, nil
}

// matchingRules returns rules applicable to the context in declaration order.
// A context no rule covers is a configuration gap, not a pass or a fail.
func (e *Evaluator) matchingRules(ctx models.Context) ([]Rule, error) {
	var matches []Rule
	for _, rule := range e.Rules {
		if rule.Matches(ctx) {
			matches = append(matches, rule)
		}
	}
	if len(matches) == 0 {
		return nil, services.NewConfigError(
			"no evaluator rule matched the provided context; update the evaluator rule set")
	}
	return matches, nil
}

// SelectRule returns the first rule applicable to the context.
func (e *Evaluator) SelectRule(ctx models.Context) (*Rule, error) {
	matches, err := e.matchingRules(ctx)
	if err != nil {
		return nil, err
	}
	return &matches[0], nil
}

// Evaluate scores the output text with every rule applicable to the context.
// The first rule whose checks fail decides the verdict; if all pass, the
// verdict carries the last matching rule's id.
func (e *Evaluator) Evaluate(ctx models.Context, outputText string) (models.Verdict, error) {
	matches, err := e.matchingRules(ctx)
	if err != nil {
		return models.Verdict{}, err
	}
	verdict := models.Verdict{
		RuleID:  matches[len(matches)-1].ID,
		Success: true,
	}
	for _, rule := range matches {
		ok, reason, err := rule.Evaluate(outputText)
		if err != nil {
			return models.Verdict{}, err
		}
		if !ok {
			return models.Verdict{RuleID: rule.ID, Success: false, Reason: reason}, nil
		}
		verdict.RuleID = rule.ID
		verdict.Reason = reason
	}
	return verdict, nil
}
