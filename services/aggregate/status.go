package aggregate

import "fmt"

// Status kinds reported alongside the run status line.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// StatusLine renders the one-line operator summary for an aggregated run.
// rowsFound reports whether a rows.jsonl was present at all; policy names
// the policy blamed when every trial was pre-denied.
func StatusLine(rowsFound bool, snap StatsSnapshot, policy string) (string, string) {
	if !rowsFound || snap.Rows <= 0 {
		return StatusFail, "RUN FAIL: no rows.jsonl produced; see earlier error."
	}

	if snap.Callable == 0 {
		if policy == "" {
			policy = "unknown"
		}
		message := fmt.Sprintf(
			"RUN WARN: all trials pre-denied (policy=%s); no model calls were made.", policy)
		return StatusWarn, message
	}

	passRate := float64(snap.Passes) / float64(snap.Callable) * 100.0
	message := fmt.Sprintf(
		"RUN OK: called=%d total=%d pass_rate=%.1f%% gates: pre a/w/d=%s, post a/w/d=%s top_reason=%s",
		snap.Callable,
		snap.Rows,
		passRate,
		formatGateCounts(snap.PreDecisions),
		formatGateCounts(snap.PostDecisions),
		topReason(snap),
	)
	return StatusOK, message
}

func formatGateCounts(counts map[string]int) string {
	return fmt.Sprintf("%d/%d/%d", counts["allow"], counts["warn"], counts["deny"])
}

// topReason picks the most frequent reason code across both gate
// checkpoints, breaking count ties by the lexicographically smaller
// reason. Returns "-" when no reasons were observed.
func topReason(snap StatsSnapshot) string {
	merged := map[string]int{}
	for reason, count := range snap.PreReasons {
		merged[reason] += count
	}
	for reason, count := range snap.PostReasons {
		merged[reason] += count
	}

	best := ""
	bestCount := 0
	for reason, count := range merged {
		if count > bestCount || (count == bestCount && best != "" && reason < best) {
			best = reason
			bestCount = count
		}
	}
	if best == "" {
		return "-"
	}
	return best
}
