package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// exportColumns lists the dumpable tables and their column order.
var exportColumns = map[string][]string{
	"products": {
		"id", "sku", "category", "title", "description", "model", "price", "date",
	},
	"cpu_specs": {
		"id", "model", "process_size_nm", "transistor_count", "die_size_mm2", "launch_price_usd",
		"release_date", "core_count", "thread_count", "frequency_ghz", "tdp_w", "foundry",
	},
	"gpu_specs": {
		"id", "model", "architecture", "process_size_nm", "transistor_count", "density_m_per_mm2",
		"die_size_mm2", "tdp_w", "memory_size_gb", "memory_type", "launch_price_usd", "release_date",
		"tensor_core_count", "pixel_rate_gpixel_per_s", "texture_rate_gtexel_per_s", "fp32_tflops",
		"base_clock_mhz", "boost_clock_mhz", "foundry",
	},
}

// DumpTable reads every row of table ordered by id. NUMERIC values come back
// as float64 and dates as time.Time.
func (r *PostgresRepository) DumpTable(ctx context.Context, table string) ([]string, [][]any, error) {
	columns, ok := exportColumns[table]
	if !ok {
		return nil, nil, fmt.Errorf("dump %q: unknown table", table)
	}

	query, args, err := psql.Select(columns...).From(table).OrderBy("id").ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build dump: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("column types: %w", err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		for i, value := range values {
			if values[i], err = normalize(types[i].DatabaseTypeName(), value); err != nil {
				return nil, nil, fmt.Errorf("column %s: %w", columns[i], err)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows iteration: %w", err)
	}

	r.logger.Debug("table dumped", "table", table, "rows", len(out))
	return columns, out, nil
}

// ExportTables returns the dumpable table names in export order.
func ExportTables() []string {
	return []string{"products", "cpu_specs", "gpu_specs"}
}

func normalize(typeName string, value any) (any, error) {
	raw, ok := value.([]byte)
	if !ok {
		return value, nil
	}
	switch strings.ToUpper(typeName) {
	case "NUMERIC", "DECIMAL":
		number, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parse numeric %q: %w", raw, err)
		}
		return number, nil
	default:
		return string(raw), nil
	}
}
