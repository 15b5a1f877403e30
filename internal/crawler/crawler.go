// Package crawler wraps the known-crawler signature matcher behind a small
// interface so the engine does not care which implementation answers.
package crawler

import (
	"log/slog"
	"regexp"

	"github.com/cnlangzi/knownbots"
)

// Matcher answers whether a user agent belongs to a known crawler.
type Matcher interface {
	IsKnownCrawler(userAgent, ip string) bool
}

// KnownBots adapts the knownbots validator. A signature match counts as a
// crawler whether or not reverse-DNS verification succeeded: the engine
// scores self-declared bots the same as verified ones.
type KnownBots struct {
	v *knownbots.Validator
}

// NewKnownBots creates the knownbots-backed matcher.
func NewKnownBots() (*KnownBots, error) {
	v, err := knownbots.New()
	if err != nil {
		return nil, err
	}
	return &KnownBots{v: v}, nil
}

func (k *KnownBots) IsKnownCrawler(userAgent, ip string) bool {
	return k.v.Validate(userAgent, ip).IsBot
}

// signatureRe is the static fallback signature list.
var signatureRe = regexp.MustCompile(`(?i)(bot|crawl|spider|slurp|scan|fetch|archiver|curl|wget|python-requests|python-urllib|httpclient|okhttp|go-http-client|scrapy|aiohttp|libwww|facebookexternalhit|bingpreview|ahrefs|semrush|mj12|dotbot|petalbot|bytespider|gptbot|ccbot|claudebot|perplexity)`)

// SignatureList is a static fallback matcher used when the knownbots
// validator cannot be constructed.
type SignatureList struct{}

func (SignatureList) IsKnownCrawler(userAgent, _ string) bool {
	return signatureRe.MatchString(userAgent)
}

// Default returns the knownbots matcher, degrading to the static signature
// list if it cannot be built.
func Default(log *slog.Logger) Matcher {
	m, err := NewKnownBots()
	if err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("knownbots unavailable, using static signature list", "error", err)
		return SignatureList{}
	}
	return m
}
