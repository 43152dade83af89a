package domain

import "time"

// Column sizes of the specification tables.
const (
	MaxFoundryLen = 20
	MaxLabelLen   = 30
)

// SpecElement is a staged enrichment entry for one distinct model.
type SpecElement struct {
	Model  string            `json:"model"`
	Status WorkStatus        `json:"status,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Done reports whether the element needs no further browsing.
func (e SpecElement) Done() bool {
	return e.Status == StatusDone
}

// CPUSpec is a normalized processor specification row.
type CPUSpec struct {
	Model           string
	ProcessSizeNM   *int64
	TransistorCount *int64
	DieSizeMM2      *float64
	LaunchPriceUSD  *int64
	ReleaseDate     *time.Time
	CoreCount       *int64
	ThreadCount     *int64
	FrequencyGHz    *float64
	TDPW            *int64
	Foundry         *string
}

// GPUSpec is a normalized graphics card specification row.
type GPUSpec struct {
	Model                 string
	Architecture          *string
	ProcessSizeNM         *int64
	TransistorCount       *int64
	DensityMPerMM2        *float64
	DieSizeMM2            *int64
	TDPW                  *int64
	MemorySizeGB          *float64
	MemoryType            *string
	LaunchPriceUSD        *int64
	ReleaseDate           *time.Time
	TensorCoreCount       *int64
	PixelRateGPixelPerS   *float64
	TextureRateGTexelPerS *float64
	FP32TFLOPS            *float64
	BaseClockMHz          *int64
	BoostClockMHz         *int64
	Foundry               *string
}
