package parser

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

const (
	cpuRowsXPath = `//section[@class="details"]/table/tbody/tr`
	gpuRowsXPath = `//section[@class="details"]/div/dl`
)

var ordinalExpr = regexp.MustCompile(`(\d)(st|nd|rd|th)`)

// TechPowerUp reads specification pages and normalizes their values.
type TechPowerUp struct{}

var _ ports.SpecParser = TechPowerUp{}

// Fields returns the label/value pairs of a specification page.
func (TechPowerUp) Fields(category domain.Category, page []byte) (map[string]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	rowsXPath, labelTag, valueTag := cpuRowsXPath, "th", "td"
	if category == domain.CategoryGPU {
		rowsXPath, labelTag, valueTag = gpuRowsXPath, "dt", "dd"
	}

	rows, err := htmlquery.QueryAll(doc, rowsXPath)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}

	fields := make(map[string]string, len(rows))
	for _, row := range rows {
		label := htmlquery.FindOne(row, "./"+labelTag)
		value := htmlquery.FindOne(row, "./"+valueTag)
		if label == nil || value == nil {
			continue
		}
		key := strings.TrimSuffix(collapse(htmlquery.InnerText(label)), ":")
		if key == "" {
			continue
		}
		fields[key] = collapse(htmlquery.InnerText(value))
	}
	return fields, nil
}

// CPUSpec normalizes staged processor fields.
func (TechPowerUp) CPUSpec(element domain.SpecElement) domain.CPUSpec {
	f := element.Fields
	return domain.CPUSpec{
		Model:           element.Model,
		ProcessSizeNM:   toInt(measure(f["Process Size"], unit{" nm", 1})),
		TransistorCount: toInt(measure(f["Transistors"], unit{" million", 1})),
		DieSizeMM2:      area(f["Die Size"]),
		LaunchPriceUSD:  toInt(measure(strings.TrimPrefix(f["Launch Price"], "$"), unit{"", 1})),
		ReleaseDate:     releaseDate(f["Release Date"]),
		CoreCount:       toInt(measure(f["# of Cores"], unit{"", 1})),
		ThreadCount:     toInt(measure(f["# of Threads"], unit{"", 1})),
		FrequencyGHz:    measure(f["Frequency"], unit{" GHz", 1}, unit{" MHz", 1.0 / 1000}),
		TDPW:            toInt(measure(f["TDP"], unit{" W", 1})),
		Foundry:         upper(f["Foundry"], domain.MaxFoundryLen),
	}
}

// GPUSpec normalizes staged graphics card fields.
func (TechPowerUp) GPUSpec(element domain.SpecElement) domain.GPUSpec {
	f := element.Fields
	return domain.GPUSpec{
		Model:                 element.Model,
		Architecture:          upper(f["Architecture"], domain.MaxLabelLen),
		ProcessSizeNM:         toInt(measure(f["Process Size"], unit{" nm", 1})),
		TransistorCount:       toInt(measure(f["Transistors"], unit{" million", 1})),
		DensityMPerMM2:        measure(f["Density"], unit{"M / mm²", 1}, unit{"K / mm²", 1.0 / 1000}),
		DieSizeMM2:            toInt(measure(f["Die Size"], unit{" mm²", 1})),
		TDPW:                  toInt(measure(f["TDP"], unit{" W", 1})),
		MemorySizeGB:          measure(f["Memory Size"], unit{" GB", 1}, unit{" MB", 1.0 / 1024}),
		MemoryType:            text(f["Memory Type"], domain.MaxLabelLen),
		LaunchPriceUSD:        toInt(measure(f["Launch Price"], unit{" USD", 1})),
		ReleaseDate:           releaseDate(f["Release Date"]),
		TensorCoreCount:       toInt(measure(f["Tensor Cores"], unit{"", 1})),
		PixelRateGPixelPerS:   measure(f["Pixel Rate"], unit{" GPixel/s", 1}),
		TextureRateGTexelPerS: measure(f["Texture Rate"], unit{" GTexel/s", 1}, unit{" MTexel/s", 1.0 / 1000}),
		FP32TFLOPS:            measure(f["FP32 (float)"], unit{" TFLOPS", 1}, unit{" GFLOPS", 1.0 / 1000}),
		BaseClockMHz:          toInt(measure(f["Base Clock"], unit{" MHz", 1})),
		BoostClockMHz:         toInt(measure(f["Boost Clock"], unit{" MHz", 1})),
		Foundry:               upper(f["Foundry"], domain.MaxFoundryLen),
	}
}

// unit is a textual suffix and the factor converting it to the column unit.
// An empty token accepts bare numbers.
type unit struct {
	token string
	scale float64
}

// measure strips the first unit present in value and scales the number.
// Values with no known unit or no number yield nil.
func measure(value string, units ...unit) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, u := range units {
		if !strings.Contains(value, u.token) {
			continue
		}
		literal := strings.ReplaceAll(strings.ReplaceAll(value, u.token, ""), ",", "")
		number, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		if err != nil {
			return nil
		}
		number *= u.scale
		return &number
	}
	return nil
}

// area reads a die size, multiplying "A x B" dimensions.
func area(value string) *float64 {
	value = strings.TrimSpace(strings.ReplaceAll(value, " mm²", ""))
	if value == "" {
		return nil
	}
	if sides := strings.Split(value, "x"); len(sides) == 2 {
		width := measure(sides[0], unit{"", 1})
		height := measure(sides[1], unit{"", 1})
		if width == nil || height == nil {
			return nil
		}
		product := *width * *height
		return &product
	}
	return measure(value, unit{"", 1})
}

func toInt(value *float64) *int64 {
	if value == nil {
		return nil
	}
	rounded := int64(math.Round(*value))
	return &rounded
}

// releaseDate accepts "Oct 5th, 2017" and "Oct 2017" forms.
func releaseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" || value == "Never Released" || value == "Unknown" {
		return nil
	}
	if date, err := time.Parse("Jan 2, 2006", ordinalExpr.ReplaceAllString(value, "$1")); err == nil {
		return &date
	}
	if date, err := time.Parse("Jan 2006", value); err == nil {
		return &date
	}
	return nil
}

func upper(value string, limit int) *string {
	return text(strings.ToUpper(value), limit)
}

// text keeps a non-empty value, cut to the column's limit.
func text(value string, limit int) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	value = strings.TrimSpace(domain.Truncate(value, limit))
	return &value
}
