package detect

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"botsweep/internal/store"
)

// pageNumberRe extracts the page number from the pagination markers the
// store pre-filters on: `page=`, `/page/` and `&p=`.
var pageNumberRe = regexp.MustCompile(`(?:[?&]page=|/page/|&p=)(\d+)`)

// CrawlDetector flags sessions walking paginated listings in order. Humans
// jump around; a crawler visits page 4, 5, 6, 7.
type CrawlDetector struct {
	Store      *store.Store
	Thresholds Thresholds
	Now        func() time.Time
}

func (d *CrawlDetector) Name() string { return "crawl_pattern" }

func (d *CrawlDetector) Detect(ctx context.Context, acc *Accumulator) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	since := now().Add(-d.Thresholds.Window).Unix()

	var scanErr error
	err := paginate(ctx, d.Thresholds.BatchSize,
		func(after string, limit int) ([]string, error) {
			return d.Store.PaginatedURLSessions(since, d.Thresholds.PaginationThreshold, after, limit)
		},
		func(id string) string { return id },
		func(id string) {
			if scanErr != nil {
				return
			}
			urls, err := d.Store.PageViewURLs(id)
			if err != nil {
				scanErr = err
				return
			}
			if d.isSequential(urls) {
				acc.Add(id, PointsSequentialCrawler, ReasonSequentialCrawler)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("crawl scan: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("crawl scan: %w", scanErr)
	}
	return nil
}

// isSequential extracts page numbers in visit order and measures how many
// consecutive pairs advance by 0-2 pages.
func (d *CrawlDetector) isSequential(urls []string) bool {
	var pages []int
	for _, url := range urls {
		if m := pageNumberRe.FindStringSubmatch(url); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				pages = append(pages, n)
			}
		}
	}

	if len(pages) < 2 {
		return false
	}

	sequential := 0
	for i := 1; i < len(pages); i++ {
		diff := pages[i] - pages[i-1]
		if diff >= 0 && diff <= 2 {
			sequential++
		}
	}

	fraction := float64(sequential) / float64(len(pages)-1)
	return fraction > d.Thresholds.SequentialFraction
}
