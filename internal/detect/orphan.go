package detect

import (
	"context"
	"fmt"

	"botsweep/internal/store"
)

// OrphanDetector flags sessions with zero page views. A tracked session
// that never produced a single page view is not a browser; the signal alone
// is enough for the high-confidence tier.
type OrphanDetector struct {
	Store *store.Store
	Batch int
}

func (d *OrphanDetector) Name() string { return "orphan_session" }

func (d *OrphanDetector) Detect(ctx context.Context, acc *Accumulator) error {
	err := paginate(ctx, d.Batch,
		d.Store.OrphanSessionIDs,
		func(id string) string { return id },
		func(id string) {
			acc.Add(id, PointsNoPageViews, ReasonNoPageViews)
		},
	)
	if err != nil {
		return fmt.Errorf("orphan scan: %w", err)
	}
	return nil
}
