package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used for queue keys and exports.
const DateLayout = "2006-01-02"

// Category is the product family a listing belongs to.
type Category string

const (
	CategoryCPU Category = "CPU"
	CategoryGPU Category = "GPU"
)

// ParseCategory accepts any casing of a known category name.
func ParseCategory(value string) (Category, error) {
	switch Category(strings.ToUpper(strings.TrimSpace(value))) {
	case CategoryCPU:
		return CategoryCPU, nil
	case CategoryGPU:
		return CategoryGPU, nil
	default:
		return "", fmt.Errorf("unknown category %q", value)
	}
}

// Lower returns the lowercase slug used in URLs and file names.
func (c Category) Lower() string {
	return strings.ToLower(string(c))
}

// WorkStatus tracks queue entry completion.
type WorkStatus string

const (
	StatusPending WorkStatus = "PENDING"
	StatusDone    WorkStatus = "DONE"
)

// WorkItem is one scrape target: a listing snapshot for a category and day.
type WorkItem struct {
	Category  Category
	Date      time.Time
	SourceURL string
	Status    WorkStatus
}

// Key returns the canonical queue identity of the item.
func (w WorkItem) Key() WorkKey {
	return WorkKey{Category: w.Category, Day: w.Date.Format(DateLayout)}
}

// WorkKey identifies a queue entry by category and calendar day.
type WorkKey struct {
	Category Category
	Day      string
}

// Day truncates t to midnight UTC of its calendar day in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
