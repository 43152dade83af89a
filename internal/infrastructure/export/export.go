package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

// ExporterDeps wires the dataset exporter.
type ExporterDeps struct {
	Dumper ports.TableDumper
	// Uploader is optional; files stay local when nil.
	Uploader ports.ObjectUploader
	Dir      string
	Tables   []string
	Logger   *slog.Logger
}

// Exporter dumps tables to CSV and JSON files.
type Exporter struct {
	dumper   ports.TableDumper
	uploader ports.ObjectUploader
	dir      string
	tables   []string
	logger   *slog.Logger
}

// Report lists what an export produced.
type Report struct {
	Files    []string
	Rows     map[string]int
	Uploaded int
}

// NewExporter constructs the exporter.
func NewExporter(deps ExporterDeps) *Exporter {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{
		dumper:   deps.Dumper,
		uploader: deps.Uploader,
		dir:      deps.Dir,
		tables:   deps.Tables,
		logger:   logger,
	}
}

// Export writes {table}.csv and {table}.json for every table and uploads them
// when an uploader is configured.
func (e *Exporter) Export(ctx context.Context) (Report, error) {
	report := Report{Rows: map[string]int{}}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return report, fmt.Errorf("create export dir: %w", err)
	}

	for _, table := range e.tables {
		columns, rows, err := e.dumper.DumpTable(ctx, table)
		if err != nil {
			return report, fmt.Errorf("dump %s: %w", table, err)
		}
		report.Rows[table] = len(rows)

		csvBody, err := encodeCSV(columns, rows)
		if err != nil {
			return report, fmt.Errorf("encode %s csv: %w", table, err)
		}
		jsonBody, err := encodeJSON(columns, rows)
		if err != nil {
			return report, fmt.Errorf("encode %s json: %w", table, err)
		}

		for _, file := range []struct {
			name        string
			body        []byte
			contentType string
		}{
			{table + ".csv", csvBody, "text/csv"},
			{table + ".json", jsonBody, "application/json"},
		} {
			path := filepath.Join(e.dir, file.name)
			if err := os.WriteFile(path, file.body, 0o644); err != nil {
				return report, fmt.Errorf("write %s: %w", path, err)
			}
			report.Files = append(report.Files, path)

			if e.uploader == nil {
				continue
			}
			if err := e.uploader.Upload(ctx, file.name, bytes.NewReader(file.body), file.contentType); err != nil {
				return report, fmt.Errorf("upload %s: %w", file.name, err)
			}
			report.Uploaded++
		}
		e.logger.Info("table exported", "table", table, "rows", len(rows))
	}
	return report, nil
}

func encodeCSV(columns []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, value := range row {
			record[i] = cell(value)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func encodeJSON(columns []string, rows [][]any) ([]byte, error) {
	objects := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		object := make(map[string]any, len(columns))
		for i, value := range row {
			if date, ok := value.(time.Time); ok {
				value = date.Format(domain.DateLayout)
			}
			object[columns[i]] = value
		}
		objects = append(objects, object)
	}
	return json.MarshalIndent(objects, "", "  ")
}

func cell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(domain.DateLayout)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
