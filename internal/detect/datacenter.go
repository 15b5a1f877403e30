package detect

import (
	"context"
	"fmt"
	"log/slog"

	"botsweep/internal/ranges"
	"botsweep/internal/store"
)

// DatacenterDetector flags sessions whose IP sits inside a known
// cloud/hosting provider's published ranges. The range cache is refreshed
// at the start of the pass; a failed refresh degrades to the previous set.
type DatacenterDetector struct {
	Store *store.Store
	Batch int
	Cache *ranges.Cache
	Log   *slog.Logger
}

func (d *DatacenterDetector) Name() string { return "datacenter_ip" }

func (d *DatacenterDetector) Detect(ctx context.Context, acc *Accumulator) error {
	n, err := d.Cache.Refresh(ctx)
	if err != nil {
		if d.Log != nil {
			d.Log.Warn("datacenter range refresh failed, using previous set", "ranges", n, "error", err)
		}
	} else if d.Log != nil {
		d.Log.Debug("datacenter ranges refreshed", "ranges", n)
	}

	err = paginate(ctx, d.Batch,
		d.Store.SessionBatch,
		func(s store.Session) string { return s.SessionID },
		func(s store.Session) {
			if provider, ok := d.Cache.Provider(s.IPAddress); ok {
				acc.Add(s.SessionID, PointsDatacenterIP, ReasonDatacenterIPPrefix+provider)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("datacenter scan: %w", err)
	}
	return nil
}
