package detect

import (
	"context"
	"fmt"

	"botsweep/internal/store"
)

// SinglePageDetector flags sessions with exactly one page view. Weak on its
// own; it exists to tip borderline sessions over a threshold together with
// other signals. Deliberately unwindowed, unlike the behavioral detectors.
type SinglePageDetector struct {
	Store *store.Store
	Batch int
}

func (d *SinglePageDetector) Name() string { return "single_page_session" }

func (d *SinglePageDetector) Detect(ctx context.Context, acc *Accumulator) error {
	err := paginate(ctx, d.Batch,
		d.Store.SinglePageSessionIDs,
		func(id string) string { return id },
		func(id string) {
			acc.Add(id, PointsSinglePage, ReasonSinglePageSession)
		},
	)
	if err != nil {
		return fmt.Errorf("single page scan: %w", err)
	}
	return nil
}
