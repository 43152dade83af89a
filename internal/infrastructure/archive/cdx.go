package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

// CDXLister enumerates web archive snapshots through the CDX search API.
type CDXLister struct {
	fetcher    ports.Fetcher
	endpoint   string
	replayBase string
	logger     *slog.Logger
}

var _ ports.SnapshotLister = (*CDXLister)(nil)

// NewCDXLister wires the lister; endpoint is the CDX search URL and replayBase
// the host serving archived pages.
func NewCDXLister(fetcher ports.Fetcher, endpoint, replayBase string, logger *slog.Logger) *CDXLister {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CDXLister{
		fetcher:    fetcher,
		endpoint:   endpoint,
		replayBase: strings.TrimRight(replayBase, "/"),
		logger:     logger,
	}
}

type snapshot struct {
	timestamp string
	original  string
	length    int64
}

// ListSnapshots returns one pending work item per archived day of target,
// choosing the largest capture of each day, ordered by date.
func (l *CDXLister) ListSnapshots(ctx context.Context, category domain.Category, target string) ([]domain.WorkItem, error) {
	query := url.Values{}
	query.Set("url", target)
	query.Set("output", "json")

	raw, err := l.fetcher.Fetch(ctx, l.endpoint+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("cdx query: %w", err)
	}

	snapshots, err := decodeSnapshots(raw)
	if err != nil {
		return nil, err
	}

	best := map[string]snapshot{}
	for _, snap := range snapshots {
		if len(snap.timestamp) < 8 {
			continue
		}
		day := snap.timestamp[:8]
		current, ok := best[day]
		if !ok || snap.length > current.length {
			best[day] = snap
		}
	}

	items := make([]domain.WorkItem, 0, len(best))
	for day, snap := range best {
		date, err := time.Parse("20060102", day)
		if err != nil {
			l.logger.Warn("cdx: skipping malformed timestamp", "timestamp", snap.timestamp)
			continue
		}
		items = append(items, domain.WorkItem{
			Category:  category,
			Date:      date,
			SourceURL: fmt.Sprintf("%s/web/%s/%s", l.replayBase, snap.timestamp, snap.original),
			Status:    domain.StatusPending,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Date.Before(items[j].Date) })

	l.logger.Info("cdx: snapshots listed", "target", target, "captures", len(snapshots), "days", len(items))
	return items, nil
}

// decodeSnapshots reads the JSON table answer: a header row naming the
// columns followed by one row per capture.
func decodeSnapshots(raw []byte) ([]snapshot, error) {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx answer: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns := map[string]int{}
	for i, name := range rows[0] {
		columns[name] = i
	}
	for _, name := range []string{"timestamp", "original", "length"} {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("decode cdx answer: missing column %q", name)
		}
	}

	snapshots := make([]snapshot, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			continue
		}
		length, err := strconv.ParseInt(row[columns["length"]], 10, 64)
		if err != nil {
			length = 0
		}
		snapshots = append(snapshots, snapshot{
			timestamp: row[columns["timestamp"]],
			original:  row[columns["original"]],
			length:    length,
		})
	}
	return snapshots, nil
}
