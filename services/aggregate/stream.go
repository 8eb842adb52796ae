// Package aggregate turns append-only trial row streams into summary
// artifacts. The streaming path and the batch path must produce byte
// identical outputs for the same input file; everything here is written
// with that invariant in mind.
package aggregate

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/upb/redlab/services"
)

// Row is one parsed trial record. Rows arrive as loose JSON from multiple
// experiment writers, so they stay maps rather than rigid structs.
type Row = map[string]interface{}

// Stats accumulates per-file statistics as rows are observed.
type Stats interface {
	ObserveRow(row Row)
	BuildHeader() map[string]interface{}
	BuildSummary() map[string]interface{}
}

// StatsFactory builds the stats object for one run directory.
type StatsFactory func(runDir string, runMeta map[string]interface{}) Stats

// StreamResult is a streaming aggregation handle over one rows.jsonl file.
// Header and Summary reflect whatever has been consumed so far; drain the
// iterator first for final numbers.
type StreamResult struct {
	rowsPath  string
	stats     Stats
	runMeta   map[string]interface{}
	malformed int
	consumed  bool
}

// Stream builds a streaming aggregator for a rows.jsonl file. Run metadata
// is read from a sibling run.json if present; a missing or broken metadata
// file is treated as empty, never as an error.
func Stream(rowsPath string, factory StatsFactory) *StreamResult {
	runDir := filepath.Dir(rowsPath)
	runMeta := readRunMeta(filepath.Join(runDir, "run.json"))
	return &StreamResult{
		rowsPath: rowsPath,
		stats:    factory(runDir, runMeta),
		runMeta:  runMeta,
	}
}

// Rows returns the one-shot row iterator. A second call is an error: the
// stats object has already observed the stream and replaying it would
// double-count.
func (r *StreamResult) Rows() (*RowIterator, error) {
	if r.consumed {
		return nil, services.ErrRowsConsumed
	}
	r.consumed = true
	file, err := os.Open(r.rowsPath)
	if err != nil {
		return nil, services.WrapInternal("failed to open rows file", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &RowIterator{result: r, file: file, scanner: scanner}, nil
}

// Header returns the header payload for rows consumed so far.
func (r *StreamResult) Header() map[string]interface{} {
	return r.stats.BuildHeader()
}

// Summary returns the summary payload for rows consumed so far.
func (r *StreamResult) Summary() map[string]interface{} {
	return r.stats.BuildSummary()
}

// Malformed returns how many unparsable lines were skipped so far.
func (r *StreamResult) Malformed() int {
	return r.malformed
}

// RunMeta returns the run.json payload, or an empty map.
func (r *StreamResult) RunMeta() map[string]interface{} {
	return r.runMeta
}

// RowIterator yields parsed rows one at a time, feeding the stats object as
// it goes. Blank lines are skipped; unparsable lines bump the malformed
// counter and are skipped; parsed non-object lines are skipped silently.
type RowIterator struct {
	result  *StreamResult
	file    *os.File
	scanner *bufio.Scanner
	err     error
	done    bool
}

// Next returns the next row, or false when the stream is exhausted.
func (it *RowIterator) Next() (Row, bool) {
	if it.done {
		return nil, false
	}
	for it.scanner.Scan() {
		line := strings.TrimSpace(it.scanner.Text())
		if line == "" {
			continue
		}
		var payload interface{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			it.result.malformed++
			continue
		}
		row, ok := payload.(map[string]interface{})
		if !ok {
			continue
		}
		it.result.stats.ObserveRow(row)
		return row, true
	}
	it.err = it.scanner.Err()
	it.done = true
	it.file.Close()
	return nil, false
}

// Err returns the first read error encountered, if any.
func (it *RowIterator) Err() error {
	return it.err
}

// Close releases the underlying file early.
func (it *RowIterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.file.Close()
}

// ReadAll is the batch path: it consumes the whole file and returns the
// fully-populated result. It shares the streaming parse loop so the two
// paths cannot drift apart.
func ReadAll(rowsPath string, factory StatsFactory) (*StreamResult, []Row, error) {
	result := Stream(rowsPath, factory)
	iter, err := result.Rows()
	if err != nil {
		return nil, nil, err
	}
	var rows []Row
	for {
		row, ok := iter.Next()
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	if err := iter.Err(); err != nil {
		return nil, nil, services.WrapInternal("failed to read rows file", err)
	}
	return result, rows, nil
}

// readRunMeta loads run.json tolerantly.
func readRunMeta(path string) map[string]interface{} {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]interface{}{}
	}
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]interface{}{}
	}
	meta, ok := payload.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return meta
}
