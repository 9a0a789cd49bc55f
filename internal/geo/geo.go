// Package geo geolocates proxy hosts from a local MaxMind GeoIP2 or
// GeoLite2 City database.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/nao1215/proxyprobe/internal/model"
)

// Source is the value of model.LocationResult.Source for database lookups.
const Source = "geoip"

// ErrNotFound is returned when the database has no country for an address.
var ErrNotFound = errors.New("address not found in geoip database")

// cityReader is the subset of *geoip2.Reader used by Locator.
type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// Locator resolves host locations offline. It is safe for concurrent use.
type Locator struct {
	reader   cityReader
	resolver *net.Resolver
	lang     string
}

// Option configures a Locator.
type Option func(*Locator)

// WithLanguage selects the language of place names. The default is "en".
func WithLanguage(lang string) Option {
	return func(l *Locator) {
		if lang != "" {
			l.lang = lang
		}
	}
}

// Open opens the database at path.
func Open(path string, opts ...Option) (*Locator, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return newLocator(r, opts...), nil
}

func newLocator(r cityReader, opts ...Option) *Locator {
	l := &Locator{
		reader:   r,
		resolver: net.DefaultResolver,
		lang:     "en",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close releases the database.
func (l *Locator) Close() error {
	return l.reader.Close()
}

// Locate looks up host, resolving it first when it is not an IP literal.
func (l *Locator) Locate(ctx context.Context, host string) (*model.LocationResult, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := l.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("failed to resolve %s: no addresses", host)
		}
		ip = addrs[0].IP
	}

	record, err := l.reader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup of %s: %w", ip, err)
	}
	if record.Country.IsoCode == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ip)
	}

	res := &model.LocationResult{
		CountryCode: record.Country.IsoCode,
		Country:     record.Country.Names[l.lang],
		City:        record.City.Names[l.lang],
		Zip:         record.Postal.Code,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
		Timezone:    record.Location.TimeZone,
		Source:      Source,
	}
	if len(record.Subdivisions) > 0 {
		res.Region = record.Subdivisions[0].Names[l.lang]
	}
	return res, nil
}
