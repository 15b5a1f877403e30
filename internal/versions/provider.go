package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultFeedTimeout bounds one feed request.
const DefaultFeedTimeout = 10 * time.Second

// DefaultCacheTTL is how long a fetched table stays fresh on disk.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Provider supplies the current-versions table for a run.
type Provider interface {
	// Current never fails: feed errors degrade to the disk cache and then
	// to the built-in fallback table.
	Current(ctx context.Context) *Catalog
}

// FeedConfig configures the caching feed provider.
type FeedConfig struct {
	// URL of the remote JSON feed. Empty disables fetching; the provider
	// then serves the cache or the fallback.
	URL string

	// CachePath is the on-disk cache file.
	CachePath string

	// CacheTTL is how long the cached table is considered fresh.
	CacheTTL time.Duration

	// Timeout bounds one feed request.
	Timeout time.Duration
}

// FeedProvider fetches the table from a remote feed, caching it on disk.
type FeedProvider struct {
	cfg    FeedConfig
	client *http.Client
	log    *slog.Logger
}

// NewFeedProvider creates a provider for the given feed configuration.
func NewFeedProvider(cfg FeedConfig, log *slog.Logger) *FeedProvider {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFeedTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &FeedProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Current returns the freshest usable table: fresh cache, then feed, then
// stale cache, then the built-in fallback.
func (p *FeedProvider) Current(ctx context.Context) *Catalog {
	if cat, fresh := p.loadCache(); fresh {
		return cat
	}

	if p.cfg.URL != "" {
		cat, err := p.fetch(ctx)
		if err == nil {
			p.storeCache(cat)
			return cat
		}
		p.log.Warn("browser version feed unavailable, falling back", "url", p.cfg.URL, "error", err)
	}

	// Stale cache still beats the hardcoded table.
	if cat, _ := p.loadCache(); cat != nil {
		return cat
	}
	return Fallback()
}

// fetch retrieves and sanitizes the feed table.
func (p *FeedProvider) fetch(ctx context.Context) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch version feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch version feed: unexpected status %d", resp.StatusCode)
	}

	var cat Catalog
	if err := json.NewDecoder(resp.Body).Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode version feed: %w", err)
	}

	sanitize(&cat)
	return &cat, nil
}

// sanitize caps the feed against implausible values, replacing bad entries
// with the fallback's. A compromised or broken feed must not be able to mark
// every browser in the world outdated (or current).
func sanitize(cat *Catalog) {
	fb := Fallback()

	if cat.Revision == "" {
		cat.Revision = "feed-unversioned"
	}
	if cat.ReferenceYear < 2020 || cat.ReferenceYear > time.Now().Year()+1 {
		cat.ReferenceYear = fb.ReferenceYear
	}

	cat.Browsers = sanitizeFamilies(cat.Browsers, fb.Browsers)
	cat.OS = sanitizeFamilies(cat.OS, fb.OS)
}

func sanitizeFamilies(got, fallback map[string]Release) map[string]Release {
	out := make(map[string]Release, len(fallback))
	for family, fb := range fallback {
		r, ok := got[family]
		if !ok || !plausible(r, fb) {
			r = fb
		}
		out[family] = r
	}
	return out
}

// plausible rejects entries that regressed behind the fallback or ran more
// than five years of releases ahead of it.
func plausible(r, fb Release) bool {
	if r.Current < fb.Current || r.PerYear <= 0 || r.PerYear > 60 {
		return false
	}
	maxAhead := fb.Current + int(fb.PerYear*5)
	return r.Current <= maxAhead
}

// loadCache reads the disk cache. The second result reports freshness.
func (p *FeedProvider) loadCache() (*Catalog, bool) {
	if p.cfg.CachePath == "" {
		return nil, false
	}

	info, err := os.Stat(p.cfg.CachePath)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(p.cfg.CachePath)
	if err != nil {
		return nil, false
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, false
	}
	sanitize(&cat)

	return &cat, time.Since(info.ModTime()) < p.cfg.CacheTTL
}

// storeCache writes the table to the disk cache. Failures only cost us the
// cache, so they are logged and ignored.
func (p *FeedProvider) storeCache(cat *Catalog) {
	if p.cfg.CachePath == "" {
		return
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.CachePath), 0750); err != nil {
		p.log.Warn("create version cache directory failed", "error", err)
		return
	}
	if err := os.WriteFile(p.cfg.CachePath, data, 0640); err != nil {
		p.log.Warn("write version cache failed", "path", p.cfg.CachePath, "error", err)
	}
}

// Static is a Provider pinned to one catalog. Used in tests and when the
// feed is disabled outright.
type Static struct {
	Catalog *Catalog
}

func (s Static) Current(context.Context) *Catalog {
	if s.Catalog == nil {
		return Fallback()
	}
	return s.Catalog
}
