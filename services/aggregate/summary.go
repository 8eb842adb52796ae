package aggregate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/upb/redlab/models"
)

// SummaryColumns is the column contract for summary.csv. Report tooling
// consumes these names positionally; keep the order stable.
var SummaryColumns = []string{
	"exp_id",
	"exp",
	"config",
	"cfg_hash",
	"mode",
	"seeds",
	"trials",
	"successes",
	"asr",
	"sum_tokens",
	"avg_latency_ms",
	"sum_cost_usd",
	"git_commit",
	"run_at",
}

// topReasonLimit caps how many reason codes the summary index keeps per gate.
const topReasonLimit = 5

// BuildCSVRow flattens a run's header and summary payloads into one
// summary.csv row keyed by SummaryColumns.
func BuildCSVRow(header, summary map[string]interface{}) map[string]string {
	trials := normalizedCount(summary["trials"])
	successes := normalizedCount(summary["successes"])
	if trials > 0 && successes > trials {
		successes = trials
	}

	asr := 0.0
	if value, ok := models.OptionalFloat(summary["asr"]); ok {
		asr = value
	} else if trials > 0 {
		asr = float64(successes) / float64(trials)
	}
	if asr < 0.0 {
		asr = 0.0
	} else if asr > 1.0 {
		asr = 1.0
	}

	avgLatency := ""
	if value, ok := models.OptionalFloat(summary["avg_latency_ms"]); ok {
		avgLatency = fmt.Sprintf("%.1f", value)
	}
	sumCost := ""
	if value, ok := models.OptionalFloat(summary["sum_cost_usd"]); ok {
		sumCost = fmt.Sprintf("%.4f", value)
	}

	gitCommit := trimmed(header["git_commit"])
	if gitCommit == "" {
		gitCommit = "UNKNOWN"
	}

	return map[string]string{
		"exp_id":         trimmed(header["exp_id"]),
		"exp":            trimmed(header["exp"]),
		"config":         models.Stringify(header["config"]),
		"cfg_hash":       trimmed(header["cfg_hash"]),
		"mode":           trimmed(header["mode"]),
		"seeds":          joinSeeds(header["seed"], header["seeds"]),
		"trials":         fmt.Sprintf("%d", trials),
		"successes":      fmt.Sprintf("%d", successes),
		"asr":            fmt.Sprintf("%.6f", asr),
		"sum_tokens":     fmt.Sprintf("%d", normalizedCount(summary["sum_tokens"])),
		"avg_latency_ms": avgLatency,
		"sum_cost_usd":   sumCost,
		"git_commit":     gitCommit,
		"run_at":         trimmed(header["run_at"]),
	}
}

func joinSeeds(seed, seeds interface{}) string {
	seen := map[string]struct{}{}
	var ordered []string
	add := func(value interface{}) {
		text := trimmed(value)
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		ordered = append(ordered, text)
	}
	add(seed)
	switch typed := seeds.(type) {
	case []string:
		for _, item := range typed {
			add(item)
		}
	case []interface{}:
		for _, item := range typed {
			add(item)
		}
	case string:
		for _, chunk := range strings.Split(typed, ",") {
			add(chunk)
		}
	case nil:
	default:
		add(typed)
	}
	return strings.Join(ordered, ",")
}

func normalizedCount(value interface{}) int {
	parsed, ok := models.OptionalInt(value)
	if !ok {
		return 0
	}
	return parsed
}

// ReadExistingSummary loads a previously written summary.csv. A missing
// file or a file whose header no longer matches SummaryColumns yields no
// rows so the caller starts fresh.
func ReadExistingSummary(path string) []map[string]string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return nil
	}
	if !columnsMatch(records[0]) {
		return nil
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := map[string]string{}
		for i, column := range SummaryColumns {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func columnsMatch(header []string) bool {
	if len(header) != len(SummaryColumns) {
		return false
	}
	for i, column := range SummaryColumns {
		if header[i] != column {
			return false
		}
	}
	return true
}

// MergeSummaryRows appends new rows to the existing set, keeping the first
// row seen per (exp_id, run_at) and ordering the result by run_at.
func MergeSummaryRows(existing []map[string]string, incoming ...map[string]string) []map[string]string {
	combined := append([]map[string]string(nil), existing...)
	seen := make(map[[2]string]struct{}, len(combined))
	for _, row := range combined {
		seen[[2]string{row["exp_id"], row["run_at"]}] = struct{}{}
	}
	for _, row := range incoming {
		key := [2]string{row["exp_id"], row["run_at"]}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		combined = append(combined, row)
	}
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i]["run_at"] < combined[j]["run_at"]
	})
	return combined
}

// WriteSummaryCSV writes summary.csv with the SummaryColumns header and
// the given rows. Missing columns serialize as empty cells.
func WriteSummaryCSV(path string, rows []map[string]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(SummaryColumns); err != nil {
		return err
	}
	record := make([]string, len(SummaryColumns))
	for _, row := range rows {
		for i, column := range SummaryColumns {
			record[i] = row[column]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReasonCount pairs a gate reason code with how often it was observed.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// SummaryTotals are the headline counters of a run.
type SummaryTotals struct {
	Rows     int `json:"rows"`
	Callable int `json:"callable"`
	Passes   int `json:"passes"`
	Fails    int `json:"fails"`
}

// TopReasons holds the most frequent reason codes per gate checkpoint.
type TopReasons struct {
	Pre  []ReasonCount `json:"pre"`
	Post []ReasonCount `json:"post"`
}

// SummaryIndex is the summary_index.json payload.
type SummaryIndex struct {
	Totals           SummaryTotals `json:"totals"`
	CallablePassRate float64       `json:"callable_pass_rate"`
	TopReasons       TopReasons    `json:"top_reasons"`
	Malformed        int           `json:"malformed"`
}

// BuildSummaryIndexPayload normalizes raw counters into the stable
// summary index schema. Counts are clamped so malformed upstream values
// can never produce negatives.
func BuildSummaryIndexPayload(snap StatsSnapshot, malformed int) SummaryIndex {
	rows := clampNonNegative(snap.Rows)
	callable := clampNonNegative(snap.Callable)
	passes := clampNonNegative(snap.Passes)
	fails := clampNonNegative(callable - passes)

	rate := 0.0
	if callable > 0 {
		rate = float64(passes) / float64(callable)
	}

	return SummaryIndex{
		Totals: SummaryTotals{
			Rows:     rows,
			Callable: callable,
			Passes:   passes,
			Fails:    fails,
		},
		CallablePassRate: rate,
		TopReasons: TopReasons{
			Pre:  rankReasons(snap.PreReasons, topReasonLimit),
			Post: rankReasons(snap.PostReasons, topReasonLimit),
		},
		Malformed: clampNonNegative(malformed),
	}
}

// rankReasons orders reason counts by descending count, then ascending
// reason name so ties serialize deterministically.
func rankReasons(bucket map[string]int, limit int) []ReasonCount {
	ranked := make([]ReasonCount, 0, len(bucket))
	for reason, count := range bucket {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			continue
		}
		ranked = append(ranked, ReasonCount{Reason: reason, Count: clampNonNegative(count)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Reason < ranked[j].Reason
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func clampNonNegative(value int) int {
	if value < 0 {
		return 0
	}
	return value
}

// WriteSummaryIndex persists the payload via a temp-file rename so readers
// never observe a partially written index.
func WriteSummaryIndex(path string, index SummaryIndex) error {
	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}
