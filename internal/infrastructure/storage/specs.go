package storage

import (
	"context"
	"fmt"

	"PartsScanner/internal/domain"
)

// InsertCPUSpec stores spec unless its model is already present.
func (r *PostgresRepository) InsertCPUSpec(ctx context.Context, spec domain.CPUSpec) (domain.InsertOutcome, error) {
	query, args, err := psql.Insert("cpu_specs").
		Columns(
			"model", "process_size_nm", "transistor_count", "die_size_mm2", "launch_price_usd",
			"release_date", "core_count", "thread_count", "frequency_ghz", "tdp_w", "foundry",
		).
		Values(
			spec.Model, spec.ProcessSizeNM, spec.TransistorCount, spec.DieSizeMM2, spec.LaunchPriceUSD,
			spec.ReleaseDate, spec.CoreCount, spec.ThreadCount, spec.FrequencyGHz, spec.TDPW, spec.Foundry,
		).
		Suffix("ON CONFLICT (model) DO NOTHING").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cpu spec insert: %w", err)
	}

	outcome, err := insertOutcome(r.db.ExecContext(ctx, query, args...))
	if err != nil {
		return 0, fmt.Errorf("insert cpu spec %s: %w", spec.Model, err)
	}
	return outcome, nil
}

// InsertGPUSpec stores spec unless its model is already present.
func (r *PostgresRepository) InsertGPUSpec(ctx context.Context, spec domain.GPUSpec) (domain.InsertOutcome, error) {
	query, args, err := psql.Insert("gpu_specs").
		Columns(
			"model", "architecture", "process_size_nm", "transistor_count", "density_m_per_mm2",
			"die_size_mm2", "tdp_w", "memory_size_gb", "memory_type", "launch_price_usd",
			"release_date", "tensor_core_count", "pixel_rate_gpixel_per_s", "texture_rate_gtexel_per_s",
			"fp32_tflops", "base_clock_mhz", "boost_clock_mhz", "foundry",
		).
		Values(
			spec.Model, spec.Architecture, spec.ProcessSizeNM, spec.TransistorCount, spec.DensityMPerMM2,
			spec.DieSizeMM2, spec.TDPW, spec.MemorySizeGB, spec.MemoryType, spec.LaunchPriceUSD,
			spec.ReleaseDate, spec.TensorCoreCount, spec.PixelRateGPixelPerS, spec.TextureRateGTexelPerS,
			spec.FP32TFLOPS, spec.BaseClockMHz, spec.BoostClockMHz, spec.Foundry,
		).
		Suffix("ON CONFLICT (model) DO NOTHING").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build gpu spec insert: %w", err)
	}

	outcome, err := insertOutcome(r.db.ExecContext(ctx, query, args...))
	if err != nil {
		return 0, fmt.Errorf("insert gpu spec %s: %w", spec.Model, err)
	}
	return outcome, nil
}
