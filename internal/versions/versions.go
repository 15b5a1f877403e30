// Package versions supplies the "current browser/OS versions" table used for
// user-agent age scoring. The table comes from a remote JSON feed, cached on
// disk with a TTL, with a hardcoded fallback so a feed outage can never
// block or fail a run.
package versions

// Release describes one browser or OS family's current stable release.
type Release struct {
	// Current is the current stable major release number.
	Current int `json:"current"`

	// PerYear is the family's release cadence in majors per year. Families
	// at or above RapidReleaseCadence are scored in release counts rather
	// than year bands.
	PerYear float64 `json:"per_year"`
}

// Catalog is one revision of the current-versions table.
type Catalog struct {
	// Revision identifies where the table came from: the feed's updated
	// date, or the fallback constant's version.
	Revision string `json:"updated"`

	// ReferenceYear anchors year-based age math for entries that map to
	// release years rather than release counts (Windows NT builds).
	ReferenceYear int `json:"reference_year"`

	Browsers map[string]Release `json:"browsers"`
	OS       map[string]Release `json:"os"`
}

// RapidReleaseCadence is the majors-per-year rate at or above which a family
// counts as rapid-release.
const RapidReleaseCadence = 6

// FallbackRevision identifies the built-in table. Bump it whenever the
// constants below are refreshed so staleness stays auditable.
const FallbackRevision = "fallback-2025-08"

// Fallback returns the built-in current-versions table, last refreshed
// 2025-08. Used when neither the feed nor the disk cache is usable.
func Fallback() *Catalog {
	return &Catalog{
		Revision:      FallbackRevision,
		ReferenceYear: 2025,
		Browsers: map[string]Release{
			"chrome":  {Current: 139, PerYear: 13},
			"edge":    {Current: 139, PerYear: 13},
			"firefox": {Current: 141, PerYear: 8},
			"opera":   {Current: 120, PerYear: 9},
			"safari":  {Current: 18, PerYear: 1},
		},
		OS: map[string]Release{
			"android": {Current: 16, PerYear: 1},
			"ios":     {Current: 18, PerYear: 1},
			"macos":   {Current: 15, PerYear: 1},
		},
	}
}

// Browser returns the release entry for a browser family.
func (c *Catalog) Browser(family string) (Release, bool) {
	r, ok := c.Browsers[family]
	return r, ok
}

// OSRelease returns the release entry for an OS family.
func (c *Catalog) OSRelease(family string) (Release, bool) {
	r, ok := c.OS[family]
	return r, ok
}
