package detect

import (
	"context"
	"time"
)

// Detector is one read-only scoring pass over the analytics store.
// Detectors are independent and order-insensitive; they only communicate
// through the shared accumulator.
type Detector interface {
	Name() string
	Detect(ctx context.Context, acc *Accumulator) error
}

// Thresholds are the tunable knobs of the behavioral detectors. Zero values
// are never used directly; start from DefaultThresholds and override.
type Thresholds struct {
	// BatchSize bounds each store scan.
	BatchSize int

	// Window is how far back the windowed detectors look.
	Window time.Duration

	// MaxRequestsPerHour and MaxRequestsPerDay trip the volume signals.
	MaxRequestsPerHour int
	MaxRequestsPerDay  int

	// URLDiversityThreshold is the distinct-URL ratio above which a session
	// with at least MinRequestsForPattern requests counts as systematic.
	URLDiversityThreshold float64
	MinRequestsForPattern int

	// MaxSessionsPerIP is the per-day session fanout allowed for one IP.
	MaxSessionsPerIP int

	// Timing pattern: sessions need MinTimingGaps gaps (each capped at
	// GapCapSeconds), a mean below MeanGapCeiling and a standard deviation
	// below StdDevLimit to count as robotic.
	MinTimingGaps  int
	GapCapSeconds  int64
	MeanGapCeiling float64
	StdDevLimit    float64

	// Crawl pattern: more than PaginationThreshold paginated URLs and a
	// sequential-pair fraction above SequentialFraction.
	PaginationThreshold int
	SequentialFraction  float64

	// SkipScore is the running score at or above which the user-agent
	// detector skips a session. An optimization, not a correctness rule.
	SkipScore int

	// DatacenterDetection toggles the datacenter-IP detector.
	DatacenterDetection bool
}

// DefaultThresholds returns the built-in detector tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BatchSize:             1000,
		Window:                24 * time.Hour,
		MaxRequestsPerHour:    120,
		MaxRequestsPerDay:     600,
		URLDiversityThreshold: 0.8,
		MinRequestsForPattern: 30,
		MaxSessionsPerIP:      10,
		MinTimingGaps:         20,
		GapCapSeconds:         300,
		MeanGapCeiling:        10,
		StdDevLimit:           2,
		PaginationThreshold:   5,
		SequentialFraction:    0.7,
		SkipScore:             70,
		DatacenterDetection:   true,
	}
}

// paginate drives a keyset-paginated scan: fetch is called with the last key
// of the previous batch and stops when a batch comes back short.
func paginate[T any](ctx context.Context, batch int, fetch func(after string, limit int) ([]T, error), key func(T) string, visit func(T)) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := fetch(after, batch)
		if err != nil {
			return err
		}
		for _, item := range items {
			visit(item)
		}
		if len(items) < batch {
			return nil
		}
		after = key(items[len(items)-1])
	}
}
