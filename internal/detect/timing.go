package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"botsweep/internal/store"
)

// TimingDetector flags sessions requesting pages on a suspiciously regular
// cadence. Humans are bursty; a low mean inter-arrival gap with a low
// standard deviation over enough requests is a machine.
type TimingDetector struct {
	Store      *store.Store
	Thresholds Thresholds
	Now        func() time.Time
}

func (d *TimingDetector) Name() string { return "timing_pattern" }

func (d *TimingDetector) Detect(ctx context.Context, acc *Accumulator) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	since := now().Add(-d.Thresholds.Window).Unix()

	// Candidates need at least MinTimingGaps+1 page views; gap filtering
	// can only shrink that.
	minViews := d.Thresholds.MinTimingGaps + 1

	var scanErr error
	err := paginate(ctx, d.Thresholds.BatchSize,
		func(after string, limit int) ([]string, error) {
			return d.Store.SessionsWithMinPageViews(since, minViews, after, limit)
		},
		func(id string) string { return id },
		func(id string) {
			if scanErr != nil {
				return
			}
			times, err := d.Store.PageViewTimes(id)
			if err != nil {
				scanErr = err
				return
			}
			if d.isRobotic(times) {
				acc.Add(id, PointsRoboticTiming, ReasonRoboticTiming)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("timing scan: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("timing scan: %w", scanErr)
	}
	return nil
}

// isRobotic evaluates the inter-arrival gaps of one session. Gaps above the
// cap are idle periods, not cadence, and are dropped.
func (d *TimingDetector) isRobotic(times []int64) bool {
	gaps := make([]float64, 0, len(times))
	for i := 1; i < len(times); i++ {
		gap := times[i] - times[i-1]
		if gap < 0 || gap > d.Thresholds.GapCapSeconds {
			continue
		}
		gaps = append(gaps, float64(gap))
	}

	if len(gaps) < d.Thresholds.MinTimingGaps {
		return false
	}

	mean, stddev := meanStdDev(gaps)
	return mean < d.Thresholds.MeanGapCeiling && stddev < d.Thresholds.StdDevLimit
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		diff := v - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
