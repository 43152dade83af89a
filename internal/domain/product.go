package domain

import "time"

// Column sizes of the products table.
const (
	MaxSKULen         = 14
	MaxTitleLen       = 120
	MaxDescriptionLen = 140
	MaxModelLen       = 120
)

// ProductRecord is one observation of a listed product on a given day.
type ProductRecord struct {
	SKU         string
	Category    Category
	Title       string
	Description string
	Model       string
	Price       *float64
	Date        time.Time
}

// Bounded returns a copy with title, description and model cut to their
// column sizes. The SKU is a key and is never cut.
func (p ProductRecord) Bounded() ProductRecord {
	p.Title = truncate(p.Title, MaxTitleLen)
	p.Description = truncate(p.Description, MaxDescriptionLen)
	p.Model = truncate(p.Model, MaxModelLen)
	return p
}

// Truncate cuts value to at most limit runes.
func Truncate(value string, limit int) string {
	return truncate(value, limit)
}

// InsertOutcome reports what the dedup gate did with a record.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota + 1
	Skipped
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
