package models

// TrialRow is one persisted record of a single call attempt: the context the
// caller built, both gate decisions, token usage, and the evaluator verdict.
// Rows are appended to rows.jsonl once per attempt and never mutated.
type TrialRow struct {
	RunID            string        `json:"run_id"`
	Exp              string        `json:"exp"`
	Seed             any           `json:"seed"`
	Trial            int           `json:"trial"`
	Model            string        `json:"model,omitempty"`
	InputCase        string        `json:"input_case,omitempty"`
	Success          bool          `json:"success"`
	Callable         bool          `json:"callable"`
	LatencyMS        *float64      `json:"latency_ms"`
	PromptTokens     *int          `json:"prompt_tokens"`
	CompletionTokens *int          `json:"completion_tokens"`
	TotalTokens      *int          `json:"total_tokens"`
	CostUSD          *float64      `json:"cost_usd"`
	PreCallGate      *GateDecision `json:"pre_call_gate"`
	PostCallGate     *GateDecision `json:"post_call_gate"`
	JudgeRuleID      string        `json:"judge_rule_id,omitempty"`
	FailReason       string        `json:"fail_reason,omitempty"`
	Timestamp        string        `json:"timestamp"`
}

// Well-known fail_reason values for rows that never reached the model.
const (
	FailReasonBlockedByPolicy = "PROVIDER_CALL_BLOCKED_BY_POLICY"
	FailReasonBudgetReached   = "SKIPPED_BUDGET_REACHED"
	FailReasonDryRun          = "DRY_RUN"
)
