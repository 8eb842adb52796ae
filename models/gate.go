package models

// Decision is the outcome of a gate checkpoint.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionDeny  Decision = "deny"
)

// DefaultRuleID marks decisions produced by the configured default mode
// rather than by a matching rule.
const DefaultRuleID = "policy.default"

// GateDecision is the total result of one pre-call or post-call gate
// evaluation. Every evaluation produces one; it is never partial.
type GateDecision struct {
	Decision   Decision `json:"decision"`
	ReasonCode string   `json:"reason_code"`
	RuleID     string   `json:"rule_id"`
}

// ParseDecision maps loosely-typed decision values onto the closed set,
// defaulting to allow for anything unrecognised.
func ParseDecision(value any) Decision {
	switch Normalize(value) {
	case "warn":
		return DecisionWarn
	case "deny":
		return DecisionDeny
	default:
		return DecisionAllow
	}
}

// Verdict is the Success Evaluator's judgement of one model output.
// Reason is nil on a pass.
type Verdict struct {
	RuleID  string  `json:"rule_id"`
	Success bool    `json:"success"`
	Reason  *string `json:"reason"`
}
