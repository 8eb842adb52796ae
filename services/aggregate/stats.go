package aggregate

import (
	"path/filepath"
	"strings"

	"github.com/upb/redlab/models"
)

// RowStats accumulates header fields, summary metrics and the snapshot
// counters for one run directory's rows.jsonl. It implements Stats.
type RowStats struct {
	runDir  string
	runMeta map[string]interface{}

	expName string
	model   string
	runAt   string
	mode    string

	seedsSeen    map[string]struct{}
	seedsOrdered []string

	trials    int
	successes int
	callable  int

	totalTokens  int
	latencyTotal float64
	latencyCount int
	costTotal    float64
	costPresent  bool

	preReasonCounts    map[string]int
	postReasonCounts   map[string]int
	preDecisionCounts  map[string]int
	postDecisionCounts map[string]int
}

// NewRowStats creates a RowStats seeded from the run metadata.
func NewRowStats(runDir string, runMeta map[string]interface{}) *RowStats {
	if runMeta == nil {
		runMeta = map[string]interface{}{}
	}
	s := &RowStats{
		runDir:             runDir,
		runMeta:            runMeta,
		mode:               "REAL",
		seedsSeen:          map[string]struct{}{},
		preReasonCounts:    map[string]int{},
		postReasonCounts:   map[string]int{},
		preDecisionCounts:  map[string]int{},
		postDecisionCounts: map[string]int{},
	}
	if exp := trimmed(runMeta["exp"]); exp != "" {
		s.expName = exp
	}
	if model := trimmed(runMeta["model"]); model != "" {
		s.model = model
	}
	if started := trimmed(runMeta["started"]); started != "" {
		s.runAt = started
	}
	if mode := trimmed(runMeta["mode"]); mode != "" {
		s.mode = mode
	}
	s.addSeed(runMeta["seed"])
	switch seeds := runMeta["seeds"].(type) {
	case []interface{}:
		for _, item := range seeds {
			s.addSeed(item)
		}
	case nil:
	default:
		s.addSeed(seeds)
	}
	return s
}

func (s *RowStats) addSeed(value interface{}) {
	text := trimmed(value)
	if text == "" {
		return
	}
	if _, seen := s.seedsSeen[text]; seen {
		return
	}
	s.seedsSeen[text] = struct{}{}
	s.seedsOrdered = append(s.seedsOrdered, text)
}

// ObserveRow folds one trial row into the running statistics.
func (s *RowStats) ObserveRow(row Row) {
	s.trials++
	if truthy(row["success"]) {
		s.successes++
	}
	if truthy(row["callable"]) {
		s.callable++
	}

	s.addSeed(row["seed"])
	if s.expName == "" {
		s.expName = trimmed(row["exp"])
	}
	if s.model == "" {
		s.model = trimmed(row["model"])
	}
	if s.runAt == "" {
		s.runAt = trimmed(row["timestamp"])
	}

	// total_tokens wins; fall back to prompt+completion when absent
	if total, ok := models.OptionalInt(row["total_tokens"]); ok {
		s.totalTokens += total
	} else {
		prompt, _ := models.OptionalInt(row["prompt_tokens"])
		completion, _ := models.OptionalInt(row["completion_tokens"])
		if prompt != 0 || completion != 0 {
			s.totalTokens += prompt + completion
		}
	}

	if latency, ok := models.OptionalFloat(row["latency_ms"]); ok {
		s.latencyTotal += latency
		s.latencyCount++
	}
	if cost, ok := models.OptionalFloat(row["cost_usd"]); ok {
		s.costTotal += cost
		s.costPresent = true
	}

	s.observeGate(row["pre_call_gate"], s.preReasonCounts, s.preDecisionCounts)
	s.observeGate(row["post_call_gate"], s.postReasonCounts, s.postDecisionCounts)
}

func (s *RowStats) observeGate(payload interface{}, reasons, decisions map[string]int) {
	gate, ok := payload.(map[string]interface{})
	if !ok {
		return
	}
	if reason := trimmed(gate["reason_code"]); reason != "" {
		reasons[reason]++
	}
	decisions[string(models.ParseDecision(gate["decision"]))]++
}

// BuildHeader produces the run header payload.
func (s *RowStats) BuildHeader() map[string]interface{} {
	expName := s.expName
	if expName == "" {
		expName = filepath.Base(s.runDir)
	}
	runID := trimmed(s.runMeta["run_id"])
	if runID == "" {
		runID = filepath.Base(filepath.Dir(s.runDir))
	}
	expID := expName
	if runID != "" {
		expID = expName + ":" + runID
	}
	var seed interface{}
	var seeds interface{}
	if len(s.seedsOrdered) > 0 {
		seed = s.seedsOrdered[0]
		seeds = append([]string(nil), s.seedsOrdered...)
	}
	return map[string]interface{}{
		"event":      "header",
		"exp":        expName,
		"exp_id":     expID,
		"config":     models.Stringify(s.runMeta["config"]),
		"cfg_hash":   models.Stringify(s.runMeta["cfg_hash"]),
		"mode":       s.mode,
		"seed":       seed,
		"seeds":      seeds,
		"model":      s.model,
		"run_at":     s.runAt,
		"git_commit": models.Stringify(s.runMeta["git_commit"]),
	}
}

// BuildSummary produces the run summary payload for rows observed so far.
func (s *RowStats) BuildSummary() map[string]interface{} {
	asr := 0.0
	if s.trials > 0 {
		asr = float64(s.successes) / float64(s.trials)
	}
	var avgLatency interface{}
	if s.latencyCount > 0 {
		avgLatency = s.latencyTotal / float64(s.latencyCount)
	}
	var sumCost interface{}
	if s.costPresent {
		sumCost = s.costTotal
	}
	return map[string]interface{}{
		"event":          "summary",
		"trials":         s.trials,
		"successes":      s.successes,
		"asr":            asr,
		"sum_tokens":     s.totalTokens,
		"avg_latency_ms": avgLatency,
		"sum_cost_usd":   sumCost,
		"mode":           s.mode,
	}
}

// Snapshot exposes the counters the summary index is built from.
type StatsSnapshot struct {
	Rows          int
	Callable      int
	Passes        int
	PreReasons    map[string]int
	PostReasons   map[string]int
	PreDecisions  map[string]int
	PostDecisions map[string]int
}

// Snapshot returns the current snapshot counters. The maps are copies.
func (s *RowStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Rows:          s.trials,
		Callable:      s.callable,
		Passes:        s.successes,
		PreReasons:    copyCounts(s.preReasonCounts),
		PostReasons:   copyCounts(s.postReasonCounts),
		PreDecisions:  copyCounts(s.preDecisionCounts),
		PostDecisions: copyCounts(s.postDecisionCounts),
	}
}

func copyCounts(counts map[string]int) map[string]int {
	copied := make(map[string]int, len(counts))
	for key, value := range counts {
		copied[key] = value
	}
	return copied
}

func trimmed(value interface{}) string {
	return strings.TrimSpace(models.Stringify(value))
}

// truthy interprets the loose flag values rows carry: JSON booleans,
// numbers, and string forms like "true"/"1".
func truthy(value interface{}) bool {
	if parsed, ok := models.OptionalBool(value); ok {
		return parsed
	}
	switch v := value.(type) {
	case nil:
		return false
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return false
	}
}
