// Package budget tracks per-run resource consumption against configured
// ceilings. Exhaustion is data, not an error: callers check ShouldSkip and
// turn the exceeded limit name into a deny decision.
package budget

import (
	"go.uber.org/zap"
)

// Limit names recorded in budget_hit and surfaced as "limit.<name>" rule ids.
const (
	LimitMaxTrials           = "max_trials"
	LimitMaxCalls            = "max_calls"
	LimitMaxTotalTokens      = "max_total_tokens"
	LimitMaxPromptTokens     = "max_prompt_tokens"
	LimitMaxCompletionTokens = "max_completion_tokens"
)

// Limits are the per-run ceilings. A nil limit is unbounded. Immutable once
// a tracker is built from them.
type Limits struct {
	MaxTrials           *int
	MaxCalls            *int
	MaxTotalTokens      *int
	MaxPromptTokens     *int
	MaxCompletionTokens *int

	// DryRun means the caller never issues a real call; calls_made and all
	// token sums must stay zero. Enforced by the caller, asserted downstream.
	DryRun bool
	// FailOnBudget makes the run orchestrator exit non-zero when any limit
	// was hit. The tracker only records; the orchestrator decides.
	FailOnBudget bool
}

// Tracker accumulates counters for one run. Not safe for concurrent use;
// callers running trials in parallel must serialize access or use one
// tracker per worker.
type Tracker struct {
	limits Limits
	logger *zap.Logger

	trialsTotal         int
	callsMade           int
	tokensPromptSum     int
	tokensCompletionSum int
	tokensTotalSum      int

	budgetHit string
}

// NewTracker creates a new Tracker instance
func NewTracker(limits Limits, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		limits: limits,
		logger: logger,
	}
}

// Limits returns the ceilings this tracker enforces.
func (t *Tracker) Limits() Limits {
	return t.limits
}

// ShouldSkip reports whether the run has exhausted any limit. Once true it
// stays true for the tracker's life.
func (t *Tracker) ShouldSkip() bool {
	return t.budgetHit != ""
}

// BudgetHit returns the name of the first exceeded limit, or "" if none.
func (t *Tracker) BudgetHit() string {
	return t.budgetHit
}

// RegisterAttempt counts a trial attempt, whether or not a call follows.
func (t *Tracker) RegisterAttempt() {
	t.trialsTotal++
	if t.limits.MaxTrials != nil && t.trialsTotal >= *t.limits.MaxTrials {
		t.recordHit(LimitMaxTrials)
	}
}

// RegisterCall accounts for one completed model call. Limits are checked in
// a fixed order so the recorded hit name is deterministic. Negative token
// counts from a misbehaving provider are treated as zero.
func (t *Tracker) RegisterCall(promptTokens, completionTokens, totalTokens int) {
	t.callsMade++
	t.tokensPromptSum += clampNonNegative(promptTokens)
	t.tokensCompletionSum += clampNonNegative(completionTokens)
	t.tokensTotalSum += clampNonNegative(totalTokens)

	switch {
	case t.limits.MaxCalls != nil && t.callsMade >= *t.limits.MaxCalls:
		t.recordHit(LimitMaxCalls)
	case t.limits.MaxTotalTokens != nil && t.tokensTotalSum >= *t.limits.MaxTotalTokens:
		t.recordHit(LimitMaxTotalTokens)
	case t.limits.MaxPromptTokens != nil && t.tokensPromptSum >= *t.limits.MaxPromptTokens:
		t.recordHit(LimitMaxPromptTokens)
	case t.limits.MaxCompletionTokens != nil && t.tokensCompletionSum >= *t.limits.MaxCompletionTokens:
		t.recordHit(LimitMaxCompletionTokens)
	}
}

// recordHit sets the sticky budget_hit marker. The first exceeded limit
// names the run's exhaustion; later hits never overwrite it.
func (t *Tracker) recordHit(limitName string) {
	if t.budgetHit != "" {
		return
	}
	t.budgetHit = limitName
	t.logger.Warn("budget limit reached",
		zap.String("limit", limitName),
		zap.Int("trials_total", t.trialsTotal),
		zap.Int("calls_made", t.callsMade),
		zap.Int("tokens_total", t.tokensTotalSum))
}

// Snapshot is a read-only view of the tracker's counters.
type Snapshot struct {
	TrialsTotal         int    `json:"trials_total"`
	CallsMade           int    `json:"calls_made"`
	TokensPromptSum     int    `json:"tokens_prompt_sum"`
	TokensCompletionSum int    `json:"tokens_completion_sum"`
	TokensTotalSum      int    `json:"tokens_total_sum"`
	BudgetHit           string `json:"budget_hit,omitempty"`
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		TrialsTotal:         t.trialsTotal,
		CallsMade:           t.callsMade,
		TokensPromptSum:     t.tokensPromptSum,
		TokensCompletionSum: t.tokensCompletionSum,
		TokensTotalSum:      t.tokensTotalSum,
		BudgetHit:           t.budgetHit,
	}
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
