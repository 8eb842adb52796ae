// Command aggregate walks a results directory, folds every run's
// rows.jsonl into summary artifacts, and refreshes the top-level
// summary.csv ledger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/upb/redlab/config"
	"github.com/upb/redlab/internal/observability"
	"github.com/upb/redlab/models"
	"github.com/upb/redlab/services/aggregate"
)

func main() {
	resultsFlag := flag.String("results", "", "results directory (overrides RESULTS_DIR)")
	batchFlag := flag.Bool("batch", false, "load each rows file fully into memory instead of streaming")
	flag.Parse()

	cfg, err := config.New(context.Background())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	resultsDir := cfg.Paths.ResultsDir
	if *resultsFlag != "" {
		resultsDir = *resultsFlag
	}

	if err := run(resultsDir, *batchFlag, logger); err != nil {
		logger.Fatal("aggregation failed", zap.Error(err))
	}
}

func run(resultsDir string, batch bool, logger *zap.Logger) error {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return fmt.Errorf("failed to read results directory %s: %w", resultsDir, err)
	}

	var csvRows []map[string]string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runDir := filepath.Join(resultsDir, entry.Name())

		rowsPaths, err := filepath.Glob(filepath.Join(runDir, "*", "rows.jsonl"))
		if err != nil {
			return fmt.Errorf("failed to scan run directory %s: %w", runDir, err)
		}
		if len(rowsPaths) == 0 {
			kind, message := aggregate.StatusLine(false, aggregate.StatsSnapshot{}, "")
			writeRunReport(runDir, kind, message, logger)
			fmt.Println(message)
			continue
		}

		for _, rowsPath := range rowsPaths {
			csvRow, err := aggregateRun(runDir, rowsPath, batch, logger)
			if err != nil {
				logger.Error("failed to aggregate run",
					zap.String("rows_path", rowsPath),
					zap.Error(err))
				continue
			}
			csvRows = append(csvRows, csvRow)
		}
	}

	if len(csvRows) == 0 {
		logger.Warn("no runs aggregated", zap.String("results_dir", resultsDir))
		return nil
	}

	summaryPath := filepath.Join(resultsDir, "summary.csv")
	merged := aggregate.MergeSummaryRows(aggregate.ReadExistingSummary(summaryPath), csvRows...)
	if err := aggregate.WriteSummaryCSV(summaryPath, merged); err != nil {
		return fmt.Errorf("failed to write %s: %w", summaryPath, err)
	}

	logger.Info("summary written",
		zap.String("path", summaryPath),
		zap.Int("rows", len(merged)))
	return nil
}

// aggregateRun folds one rows.jsonl, writes the run's summary index and
// status report, and returns its summary.csv row.
func aggregateRun(runDir, rowsPath string, batch bool, logger *zap.Logger) (map[string]string, error) {
	var stats *aggregate.RowStats
	factory := func(dir string, meta map[string]interface{}) aggregate.Stats {
		stats = aggregate.NewRowStats(dir, meta)
		return stats
	}

	var result *aggregate.StreamResult
	if batch {
		batchResult, _, err := aggregate.ReadAll(rowsPath, factory)
		if err != nil {
			return nil, err
		}
		result = batchResult
	} else {
		result = aggregate.Stream(rowsPath, factory)
		iter, err := result.Rows()
		if err != nil {
			return nil, err
		}
		for {
			if _, ok := iter.Next(); !ok {
				break
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}

	snap := stats.Snapshot()
	if malformed := result.Malformed(); malformed > 0 {
		logger.Warn("skipped malformed rows",
			zap.String("rows_path", rowsPath),
			zap.Int("malformed", malformed))
	}

	indexPath := filepath.Join(runDir, "summary_index.json")
	index := aggregate.BuildSummaryIndexPayload(snap, result.Malformed())
	if err := aggregate.WriteSummaryIndex(indexPath, index); err != nil {
		return nil, err
	}

	policy := models.Stringify(result.RunMeta()["policy"])
	kind, message := aggregate.StatusLine(true, snap, policy)
	writeRunReport(runDir, kind, message, logger)
	fmt.Println(message)

	return aggregate.BuildCSVRow(result.Header(), result.Summary()), nil
}

// writeRunReport records the status line next to the run's artifacts so
// later tooling can pick it up without re-aggregating.
func writeRunReport(runDir, kind, message string, logger *zap.Logger) {
	payload := map[string]string{
		"kind":    kind,
		"message": message,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		logger.Warn("failed to encode run report", zap.Error(err))
		return
	}
	data = append(data, '\n')

	reportPath := filepath.Join(runDir, "run_report.json")
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		logger.Warn("failed to write run report",
			zap.String("path", reportPath),
			zap.Error(err))
	}
}
