package aggregate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCSVRow(t *testing.T) {
	header := map[string]interface{}{
		"exp":        "tau_risky",
		"exp_id":     "tau_risky:r42",
		"config":     "configs/tau.yaml",
		"cfg_hash":   "abc123",
		"mode":       "REAL",
		"seed":       "1",
		"seeds":      []string{"1", "2"},
		"git_commit": "deadbeef",
		"run_at":     "2026-01-02T03:04:05Z",
	}
	summary := map[string]interface{}{
		"trials":         4,
		"successes":      2,
		"asr":            0.5,
		"sum_tokens":     200,
		"avg_latency_ms": 123.456,
		"sum_cost_usd":   0.12345,
	}

	row := BuildCSVRow(header, summary)

	assert.Equal(t, "tau_risky:r42", row["exp_id"])
	assert.Equal(t, "tau_risky", row["exp"])
	assert.Equal(t, "abc123", row["cfg_hash"])
	assert.Equal(t, "1,2", row["seeds"])
	assert.Equal(t, "4", row["trials"])
	assert.Equal(t, "2", row["successes"])
	assert.Equal(t, "0.500000", row["asr"])
	assert.Equal(t, "200", row["sum_tokens"])
	assert.Equal(t, "123.5", row["avg_latency_ms"])
	assert.Equal(t, "0.1235", row["sum_cost_usd"])
	assert.Equal(t, "deadbeef", row["git_commit"])
	assert.Equal(t, "2026-01-02T03:04:05Z", row["run_at"])
}

func TestBuildCSVRow_Clamps(t *testing.T) {
	row := BuildCSVRow(map[string]interface{}{}, map[string]interface{}{
		"trials":    2,
		"successes": 5,
		"asr":       3.7,
	})

	assert.Equal(t, "2", row["successes"])
	assert.Equal(t, "1.000000", row["asr"])
}

func TestBuildCSVRow_Fallbacks(t *testing.T) {
	row := BuildCSVRow(map[string]interface{}{}, map[string]interface{}{})

	assert.Equal(t, "UNKNOWN", row["git_commit"])
	assert.Equal(t, "", row["run_at"])
	assert.Equal(t, "", row["avg_latency_ms"])
	assert.Equal(t, "", row["sum_cost_usd"])
	assert.Equal(t, "0.000000", row["asr"])
}

func TestWriteAndReadSummaryCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	rows := []map[string]string{
		{"exp_id": "a:1", "run_at": "2026-01-01T00:00:00Z", "trials": "3"},
		{"exp_id": "b:2", "run_at": "2026-01-02T00:00:00Z", "trials": "5"},
	}
	require.NoError(t, WriteSummaryCSV(path, rows))

	loaded := ReadExistingSummary(path)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a:1", loaded[0]["exp_id"])
	assert.Equal(t, "5", loaded[1]["trials"])
	assert.Equal(t, "", loaded[0]["cfg_hash"])
}

func TestReadExistingSummary_HeaderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	require.NoError(t, os.WriteFile(path, []byte("exp,old_column\nx,y\n"), 0o644))

	assert.Nil(t, ReadExistingSummary(path))
}

func TestReadExistingSummary_MissingFile(t *testing.T) {
	assert.Nil(t, ReadExistingSummary(filepath.Join(t.TempDir(), "summary.csv")))
}

func TestMergeSummaryRows(t *testing.T) {
	existing := []map[string]string{
		{"exp_id": "a:1", "run_at": "2026-01-02T00:00:00Z", "trials": "3"},
	}

	merged := MergeSummaryRows(existing,
		map[string]string{"exp_id": "a:1", "run_at": "2026-01-02T00:00:00Z", "trials": "99"},
		map[string]string{"exp_id": "b:1", "run_at": "2026-01-01T00:00:00Z", "trials": "7"},
	)

	require.Len(t, merged, 2)
	assert.Equal(t, "b:1", merged[0]["exp_id"])
	assert.Equal(t, "a:1", merged[1]["exp_id"])
	assert.Equal(t, "3", merged[1]["trials"])
}

func TestBuildSummaryIndexPayload(t *testing.T) {
	snap := StatsSnapshot{
		Rows:     10,
		Callable: 8,
		Passes:   5,
		PreReasons: map[string]int{
			"pre_hard_limit": 2,
			"":               4,
		},
		PostReasons: map[string]int{
			"soft_limit":            3,
			"post_missing_approval": 3,
			"rare_a":                1,
		},
	}

	index := BuildSummaryIndexPayload(snap, 2)

	assert.Equal(t, SummaryTotals{Rows: 10, Callable: 8, Passes: 5, Fails: 3}, index.Totals)
	assert.Equal(t, 0.625, index.CallablePassRate)
	assert.Equal(t, 2, index.Malformed)
	assert.Equal(t, []ReasonCount{{Reason: "pre_hard_limit", Count: 2}}, index.TopReasons.Pre)
	assert.Equal(t, []ReasonCount{
		{Reason: "post_missing_approval", Count: 3},
		{Reason: "soft_limit", Count: 3},
		{Reason: "rare_a", Count: 1},
	}, index.TopReasons.Post)
}

func TestBuildSummaryIndexPayload_Clamps(t *testing.T) {
	index := BuildSummaryIndexPayload(StatsSnapshot{Rows: -1, Callable: -2, Passes: 4}, -3)

	assert.Equal(t, SummaryTotals{Rows: 0, Callable: 0, Passes: 4, Fails: 0}, index.Totals)
	assert.Equal(t, 0.0, index.CallablePassRate)
	assert.Equal(t, 0, index.Malformed)
}

func TestBuildSummaryIndexPayload_TopReasonLimit(t *testing.T) {
	reasons := map[string]int{
		"r1": 7, "r2": 6, "r3": 5, "r4": 4, "r5": 3, "r6": 2, "r7": 1,
	}

	index := BuildSummaryIndexPayload(StatsSnapshot{PreReasons: reasons}, 0)

	require.Len(t, index.TopReasons.Pre, 5)
	assert.Equal(t, "r1", index.TopReasons.Pre[0].Reason)
	assert.Equal(t, "r5", index.TopReasons.Pre[4].Reason)
}

func TestWriteSummaryIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary_index.json")

	index := BuildSummaryIndexPayload(StatsSnapshot{Rows: 1, Callable: 1, Passes: 1}, 0)
	require.NoError(t, WriteSummaryIndex(path, index))

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(payload), "\n"))
	assert.Contains(t, string(payload), `"callable_pass_rate": 1`)
	assert.Contains(t, string(payload), `"pre": []`)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStatusLine(t *testing.T) {
	t.Run("fail when no rows file", func(t *testing.T) {
		kind, message := StatusLine(false, StatsSnapshot{}, "")
		assert.Equal(t, StatusFail, kind)
		assert.Equal(t, "RUN FAIL: no rows.jsonl produced; see earlier error.", message)
	})

	t.Run("fail when rows file is empty", func(t *testing.T) {
		kind, _ := StatusLine(true, StatsSnapshot{}, "")
		assert.Equal(t, StatusFail, kind)
	})

	t.Run("warn when every trial was pre-denied", func(t *testing.T) {
		kind, message := StatusLine(true, StatsSnapshot{Rows: 5}, "always_deny")
		assert.Equal(t, StatusWarn, kind)
		assert.Equal(t, "RUN WARN: all trials pre-denied (policy=always_deny); no model calls were made.", message)
	})

	t.Run("warn falls back to unknown policy", func(t *testing.T) {
		_, message := StatusLine(true, StatsSnapshot{Rows: 5}, "")
		assert.Contains(t, message, "policy=unknown")
	})

	t.Run("ok line with gate counts and top reason", func(t *testing.T) {
		snap := StatsSnapshot{
			Rows:          5,
			Callable:      4,
			Passes:        3,
			PreReasons:    map[string]int{"pre_hard_limit": 1},
			PostReasons:   map[string]int{"soft_limit": 2},
			PreDecisions:  map[string]int{"allow": 4, "deny": 1},
			PostDecisions: map[string]int{"allow": 2, "warn": 2},
		}
		kind, message := StatusLine(true, snap, "")
		assert.Equal(t, StatusOK, kind)
		assert.Equal(t,
			"RUN OK: called=4 total=5 pass_rate=75.0% gates: pre a/w/d=4/0/1, post a/w/d=2/2/0 top_reason=soft_limit",
			message)
	})

	t.Run("top reason tie breaks alphabetically", func(t *testing.T) {
		snap := StatsSnapshot{
			Rows:        2,
			Callable:    2,
			PreReasons:  map[string]int{"zulu": 1},
			PostReasons: map[string]int{"alpha": 1},
		}
		_, message := StatusLine(true, snap, "")
		assert.Contains(t, message, "top_reason=alpha")
	})

	t.Run("no reasons renders a dash", func(t *testing.T) {
		_, message := StatusLine(true, StatsSnapshot{Rows: 1, Callable: 1}, "")
		assert.Contains(t, message, "top_reason=-")
	})
}
