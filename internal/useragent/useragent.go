// Package useragent classifies user-agent strings for the bot engine: known
// dead browsers, custom bot fingerprints, and age scoring against the
// current-versions table.
package useragent

import (
	"regexp"
	"strconv"
	"strings"

	"botsweep/internal/versions"
)

// deadBrowserPatterns is the hard list of user agents no live human traffic
// produces anymore: archaic browsers and engines, EOL operating systems,
// automation fingerprints, placeholder strings, and client-hint brand lists
// leaked into the User-Agent header.
var deadBrowserPatterns = []*regexp.Regexp{
	// Archaic browsers and engines
	regexp.MustCompile(`MSIE [2-9]\.`),
	regexp.MustCompile(`Trident/[34]\.`),
	regexp.MustCompile(`(?i)netscape|navigator/`),
	regexp.MustCompile(`Opera/[0-8]\.`),

	// EOL operating systems
	regexp.MustCompile(`Windows NT 5\.|Windows 98|Windows 95|Win 9x`),
	regexp.MustCompile(`Windows NT 6\.0`),
	regexp.MustCompile(`Android [1-4]\.`),

	// Automation fingerprints
	regexp.MustCompile(`HeadlessChrome|PhantomJS|SlimerJS|Splash/`),

	// Malformed or placeholder strings
	regexp.MustCompile(`^Mozilla/[1-5]\.0$`),
	regexp.MustCompile(`^(?i)(-|null|undefined|unknown|user-agent)?$`),

	// Sec-CH-UA brand lists sent as the UA itself, e.g. `"Not A;Brand";v="99"`
	regexp.MustCompile(`^"[^"]+";v="`),
}

// IsDeadBrowser reports whether the user agent matches the dead-browser
// hard list.
func IsDeadBrowser(ua string) bool {
	for _, re := range deadBrowserPatterns {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

// customBotPatterns are fixed fingerprints observed almost exclusively in
// automated traffic against this kind of site.
var customBotPatterns = []*regexp.Regexp{
	// An email address embedded in the UA (scraper contact info)
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),

	// Rendering-engine token with no version: truncated template strings
	regexp.MustCompile(`AppleWebKit($|[^/0-9])`),
	regexp.MustCompile(`Gecko$`),

	// Named automation and cleaning tools
	regexp.MustCompile(`(?i)selenium|webdriver|puppeteer|playwright|ccleaner`),

	// Ancient IE versions only seen in forged headers
	regexp.MustCompile(`MSIE [45]\.`),

	// Chrome past 109 never shipped for Windows 7; the combination is a
	// fabricated UA seen disproportionately in bot traffic.
	regexp.MustCompile(`Windows NT 6\.1.*Chrome/1[1-9][0-9]\.`),

	// HTTP header fragments leaked into the UA by broken automation
	regexp.MustCompile(`(?i)accept-language:|sec-ch-ua|x-forwarded-for`),
}

// MatchesCustomPattern reports whether the user agent trips the custom
// fingerprint list.
func MatchesCustomPattern(ua string) bool {
	for _, re := range customBotPatterns {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

// Browser family detection. Order matters: Chrome's UA contains Safari,
// Edge's contains Chrome, Opera's contains both.
var browserRes = []struct {
	family string
	re     *regexp.Regexp
}{
	{"edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/(\d+)`)},
	{"opera", regexp.MustCompile(`OPR/(\d+)`)},
	{"chrome", regexp.MustCompile(`Chrome/(\d+)`)},
	{"firefox", regexp.MustCompile(`Firefox/(\d+)`)},
	{"safari", regexp.MustCompile(`Version/(\d+)[.\d]* .*Safari/`)},
}

// BrowserVersion extracts the browser family and claimed major version.
func BrowserVersion(ua string) (family string, major int, ok bool) {
	for _, b := range browserRes {
		if m := b.re.FindStringSubmatch(ua); m != nil {
			major, err := strconv.Atoi(m[1])
			if err != nil {
				return "", 0, false
			}
			return b.family, major, true
		}
	}
	return "", 0, false
}

var (
	androidRe = regexp.MustCompile(`Android (\d+)`)
	iosRe     = regexp.MustCompile(`(?:iPhone|iPad).*OS (\d+)_`)
	macRe     = regexp.MustCompile(`Mac OS X (\d+)[._](\d+)`)
	winRe     = regexp.MustCompile(`Windows NT (\d+\.\d+)`)
)

// Release years of pre-10 Windows NT builds still seen in traffic.
var windowsNTYears = map[string]int{
	"6.3": 2013,
	"6.2": 2012,
	"6.1": 2009,
	"6.0": 2006,
	"5.2": 2003,
	"5.1": 2001,
}

// OSVersion extracts the OS family and an effective major version comparable
// against the catalog. Windows is reported as years behind instead (second
// return value is the release year, family "windows-year").
func OSVersion(ua string) (family string, major int, ok bool) {
	if m := androidRe.FindStringSubmatch(ua); m != nil {
		v, _ := strconv.Atoi(m[1])
		return "android", v, true
	}
	if m := iosRe.FindStringSubmatch(ua); m != nil {
		v, _ := strconv.Atoi(m[1])
		return "ios", v, true
	}
	if m := macRe.FindStringSubmatch(ua); m != nil {
		maj, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if maj == 10 {
			// 10.15 (2019) sits one notional major behind 11 (2020).
			return "macos", min - 5, true
		}
		return "macos", maj, true
	}
	return "", 0, false
}

// WindowsReleaseYear returns the release year for a pre-10 Windows NT token.
func WindowsReleaseYear(ua string) (int, bool) {
	m := winRe.FindStringSubmatch(ua)
	if m == nil {
		return 0, false
	}
	year, ok := windowsNTYears[m[1]]
	return year, ok
}

// Age bands. A gap expressed in equivalent years maps onto point scores
// 20/30/40/50 at >=1/>=2/>=4/>=6 years; rapid-release families use release
// counts >=6/>=13/>=26/>=52 instead.
func yearBandPoints(years float64) int {
	switch {
	case years >= 6:
		return 50
	case years >= 4:
		return 40
	case years >= 2:
		return 30
	case years >= 1:
		return 20
	default:
		return 0
	}
}

func releaseBandPoints(releases int) int {
	switch {
	case releases >= 52:
		return 50
	case releases >= 26:
		return 40
	case releases >= 13:
		return 30
	case releases >= 6:
		return 20
	default:
		return 0
	}
}

// AgeScore scores how far the UA's claimed browser and OS versions lag the
// current-versions table. The browser and OS contributions are computed
// independently and the larger band wins.
func AgeScore(ua string, cat *versions.Catalog) int {
	score := 0

	if family, major, ok := BrowserVersion(ua); ok {
		if rel, known := cat.Browser(family); known && major <= rel.Current {
			gap := rel.Current - major
			if rel.PerYear >= versions.RapidReleaseCadence {
				score = max(score, releaseBandPoints(gap))
			} else if rel.PerYear > 0 {
				score = max(score, yearBandPoints(float64(gap)/rel.PerYear))
			}
		}
	}

	if family, major, ok := OSVersion(ua); ok {
		if rel, known := cat.OSRelease(family); known && major <= rel.Current && rel.PerYear > 0 {
			gap := float64(rel.Current-major) / rel.PerYear
			score = max(score, yearBandPoints(gap))
		}
	}

	if year, ok := WindowsReleaseYear(ua); ok {
		score = max(score, yearBandPoints(float64(cat.ReferenceYear-year)))
	}

	return score
}

// Normalize trims and collapses whitespace so pattern matching sees the UA
// the way the tracker recorded it.
func Normalize(ua string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(ua)), " ")
}
