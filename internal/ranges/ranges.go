// Package ranges maintains the refreshable datacenter IP range cache. A
// membership test answers which cloud/hosting provider, if any, published
// the range an address belongs to.
package ranges

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Range pairs an IP prefix with the provider that published it.
type Range struct {
	CIDR     string
	Provider string
}

// Datacenter ASNs and their providers, for the optional ASN database
// backend. Covers the majors; the CIDR set handles the rest.
var datacenterASNs = map[uint]string{
	16509:  "aws",
	14618:  "aws",
	15169:  "gcp",
	396982: "gcp",
	8075:   "azure",
	14061:  "digitalocean",
	24940:  "hetzner",
	16276:  "ovh",
	12876:  "scaleway",
	20473:  "vultr",
	63949:  "linode",
	36352:  "colocrossing",
}

// defaultRanges is the built-in prefix set, used when no ranges file is
// configured and as the base the file extends.
var defaultRanges = []Range{
	{"3.0.0.0/9", "aws"},
	{"13.32.0.0/12", "aws"},
	{"18.128.0.0/9", "aws"},
	{"52.0.0.0/11", "aws"},
	{"54.64.0.0/11", "aws"},
	{"34.64.0.0/10", "gcp"},
	{"35.184.0.0/13", "gcp"},
	{"13.64.0.0/11", "azure"},
	{"20.33.0.0/16", "azure"},
	{"40.74.0.0/15", "azure"},
	{"138.68.0.0/16", "digitalocean"},
	{"159.65.0.0/16", "digitalocean"},
	{"167.99.0.0/16", "digitalocean"},
	{"88.198.0.0/16", "hetzner"},
	{"95.216.0.0/16", "hetzner"},
	{"135.181.0.0/16", "hetzner"},
	{"51.38.0.0/16", "ovh"},
	{"51.68.0.0/16", "ovh"},
	{"45.32.0.0/16", "vultr"},
	{"45.76.0.0/16", "vultr"},
	{"172.104.0.0/15", "linode"},
}

// Config configures the cache sources.
type Config struct {
	// RangesFile is an optional file of "CIDR provider" lines extending the
	// built-in set. Blank lines and #-comments are ignored.
	RangesFile string

	// ASNDatabase is an optional GeoLite2-ASN .mmdb path; when set, IPs not
	// covered by a prefix are resolved through their ASN.
	ASNDatabase string
}

type providerNet struct {
	net      *net.IPNet
	provider string
}

// Cache answers datacenter membership queries. Refresh rebuilds the prefix
// set; a failed refresh keeps the previous set, or the built-ins when
// nothing was loaded yet, so a bad source never costs a run its
// datacenter signals.
type Cache struct {
	cfg Config
	log *slog.Logger

	mu   sync.RWMutex
	nets []providerNet
	asn  *geoip2.Reader
}

// New creates an unloaded cache. Call Refresh before querying.
func New(cfg Config, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{cfg: cfg, log: log}
}

// Refresh rebuilds the range set from the built-in prefixes and the
// configured ranges file, and (re)opens the ASN database if configured.
// Returns the number of loaded prefixes.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	loaded := make([]providerNet, 0, len(defaultRanges))
	for _, r := range defaultRanges {
		_, ipNet, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			// Built-in entries are fixed; a parse failure is a programming error.
			return 0, fmt.Errorf("parse builtin range %q: %w", r.CIDR, err)
		}
		loaded = append(loaded, providerNet{net: ipNet, provider: r.Provider})
	}

	if c.cfg.RangesFile != "" {
		fileNets, err := loadRangesFile(c.cfg.RangesFile)
		if err != nil {
			// Keep serving the previous set; with no previous set, install
			// the built-ins so a bad file only costs its own additions.
			c.mu.Lock()
			if len(c.nets) == 0 {
				c.nets = loaded
			}
			n := len(c.nets)
			c.mu.Unlock()
			return n, fmt.Errorf("load ranges file: %w", err)
		}
		loaded = append(loaded, fileNets...)
	}

	var asn *geoip2.Reader
	if c.cfg.ASNDatabase != "" {
		var err error
		asn, err = geoip2.Open(c.cfg.ASNDatabase)
		if err != nil {
			c.log.Warn("asn database unavailable, using prefix ranges only", "path", c.cfg.ASNDatabase, "error", err)
			asn = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nets = loaded
	if c.asn != nil {
		c.asn.Close()
	}
	c.asn = asn

	return len(loaded), nil
}

// loadRangesFile parses "CIDR provider" lines.
func loadRangesFile(path string) ([]providerNet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var nets []providerNet
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"CIDR provider\", got %q", line, text)
		}
		_, ipNet, err := net.ParseCIDR(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		nets = append(nets, providerNet{net: ipNet, provider: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return nets, nil
}

// Provider reports which datacenter provider an address belongs to. The
// check is pure and side-effect free per call.
func (c *Cache) Provider(ipAddress string) (string, bool) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, pn := range c.nets {
		if pn.net.Contains(ip) {
			return pn.provider, true
		}
	}

	if c.asn != nil {
		record, err := c.asn.ASN(ip)
		if err == nil {
			if provider, ok := datacenterASNs[uint(record.AutonomousSystemNumber)]; ok {
				return provider, true
			}
		}
	}

	return "", false
}

// Close releases the ASN database handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asn != nil {
		err := c.asn.Close()
		c.asn = nil
		return err
	}
	return nil
}
