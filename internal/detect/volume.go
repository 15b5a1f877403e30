package detect

import (
	"context"
	"fmt"
	"time"

	"botsweep/internal/store"
)

// VolumeDetector flags request-rate anomalies: sessions hammering the site
// within an hour or a day, sessions crawling a wide URL surface, and IPs
// fanning out into unusually many sessions.
type VolumeDetector struct {
	Store      *store.Store
	Thresholds Thresholds
	// Now is overridable for tests; zero means time.Now.
	Now func() time.Time
}

func (d *VolumeDetector) Name() string { return "volume_anomaly" }

func (d *VolumeDetector) Detect(ctx context.Context, acc *Accumulator) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	since := now().Add(-d.Thresholds.Window).Unix()

	if err := d.detectHighVolume(ctx, acc, since); err != nil {
		return err
	}
	if err := d.detectSystematic(ctx, acc, since); err != nil {
		return err
	}
	return d.detectIPFanout(ctx, acc, since)
}

// detectHighVolume emits one hourly and/or one daily signal per session,
// however many buckets tripped the threshold.
func (d *VolumeDetector) detectHighVolume(ctx context.Context, acc *Accumulator, since int64) error {
	type bucket struct {
		seconds   int64
		threshold int
		reason    string
	}
	buckets := []bucket{
		{3600, d.Thresholds.MaxRequestsPerHour, ReasonHighVolumeHourly},
		{86400, d.Thresholds.MaxRequestsPerDay, ReasonHighVolumeDaily},
	}

	for _, b := range buckets {
		seen := make(map[string]struct{})
		err := paginate(ctx, d.Thresholds.BatchSize,
			func(after string, limit int) ([]store.SessionVolume, error) {
				return d.Store.HighVolumeSessions(since, b.seconds, b.threshold, after, limit)
			},
			func(v store.SessionVolume) string { return v.SessionID },
			func(v store.SessionVolume) {
				if _, dup := seen[v.SessionID]; dup {
					return
				}
				seen[v.SessionID] = struct{}{}
				acc.Add(v.SessionID, PointsHighVolume, b.reason)
			},
		)
		if err != nil {
			return fmt.Errorf("high volume scan: %w", err)
		}
	}
	return nil
}

// detectSystematic flags sessions whose distinct-URL ratio within a day
// exceeds the diversity threshold at a minimum request count.
func (d *VolumeDetector) detectSystematic(ctx context.Context, acc *Accumulator, since int64) error {
	seen := make(map[string]struct{})
	err := paginate(ctx, d.Thresholds.BatchSize,
		func(after string, limit int) ([]store.SessionDiversity, error) {
			return d.Store.DiverseURLSessions(since, d.Thresholds.MinRequestsForPattern, after, limit)
		},
		func(v store.SessionDiversity) string { return v.SessionID },
		func(v store.SessionDiversity) {
			if _, dup := seen[v.SessionID]; dup {
				return
			}
			ratio := float64(v.DistinctURLs) / float64(v.Requests)
			if ratio > d.Thresholds.URLDiversityThreshold {
				seen[v.SessionID] = struct{}{}
				acc.Add(v.SessionID, PointsSystematicCrawler, ReasonSystematicCrawler)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("systematic crawler scan: %w", err)
	}
	return nil
}

// detectIPFanout propagates the anomaly signal to every session of an IP
// that opened more than the allowed number of sessions in the window.
func (d *VolumeDetector) detectIPFanout(ctx context.Context, acc *Accumulator, since int64) error {
	ips, err := d.Store.FanoutIPs(since, d.Thresholds.MaxSessionsPerIP)
	if err != nil {
		return fmt.Errorf("fanout ip scan: %w", err)
	}

	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := d.Store.SessionIDsForIP(ip, since)
		if err != nil {
			return fmt.Errorf("fanout sessions for %s: %w", ip, err)
		}
		for _, id := range ids {
			acc.Add(id, PointsIPVolumeAnomaly, ReasonIPVolumeAnomaly)
		}
	}
	return nil
}
