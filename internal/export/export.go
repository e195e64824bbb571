// Package export converts the append-only JSONL audit log into Parquet files
// for offline analysis.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/audit"
	"github.com/slkreddy/SafeLayer/internal/logger"
)

// Record is the Parquet row shape for one audit entry.
type Record struct {
	Guard       string `parquet:"guard"`
	Entity      string `parquet:"entity"`
	Start       int32  `parquet:"start"`
	End         int32  `parquet:"end"`
	Snippet     string `parquet:"snippet"`
	Explanation string `parquet:"explanation"`
	// TimestampMS is the entry timestamp in Unix milliseconds.
	TimestampMS int64 `parquet:"timestamp_ms"`
}

// Result summarizes one export run.
type Result struct {
	Exported int
	Skipped  int
}

// AuditLog reads the JSONL audit log at inPath and writes a Parquet file to
// outPath. Lines that fail to parse are skipped and counted, not fatal.
func AuditLog(inPath, outPath string, log *logger.Logger) (*Result, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	writer := parquet.NewWriter(out)

	result := &Result{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry audit.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Warn("Skipping malformed audit line", zap.Error(err))
			result.Skipped++
			continue
		}

		record := Record{
			Guard:       entry.Guard,
			Entity:      entry.Entity,
			Start:       int32(entry.Start),
			End:         int32(entry.End),
			Snippet:     entry.Snippet,
			Explanation: entry.Explanation,
			TimestampMS: entry.Timestamp.UnixMilli(),
		}
		if err := writer.Write(&record); err != nil {
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
		result.Exported++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	log.Info("Audit log exported",
		zap.String("input", inPath),
		zap.String("output", outPath),
		zap.Int("exported", result.Exported),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}
