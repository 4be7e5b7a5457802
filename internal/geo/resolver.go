package geo

import (
	"errors"
	"fmt"
	"net"

	"ids-guard/internal/model"

	"github.com/oschwald/geoip2-golang"
)

var (
	// ErrUnavailable means the lookup database could not be opened.
	ErrUnavailable = errors.New("geo database unavailable")
	// ErrNotFound is a per-address lookup miss.
	ErrNotFound = errors.New("address not found")
)

// Resolver maps an address to a country name. It is held for one cycle.
type Resolver interface {
	Country(ip string) (string, error)
	Close() error
}

// Opener acquires a Resolver at the start of a cycle.
type Opener interface {
	Open() (Resolver, error)
}

// MaxMindOpener opens a GeoIP2/GeoLite2 database file.
type MaxMindOpener struct {
	Path string
}

func (o MaxMindOpener) Open() (Resolver, error) {
	db, err := geoip2.Open(o.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, o.Path, err)
	}
	return &maxMindResolver{db: db}, nil
}

type maxMindResolver struct {
	db *geoip2.Reader
}

func (r *maxMindResolver) Country(ip string) (string, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("invalid address %q", ip)
	}
	rec, err := r.db.Country(addr)
	if err != nil {
		return "", err
	}
	name := rec.Country.Names["en"]
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}

func (r *maxMindResolver) Close() error {
	return r.db.Close()
}

// StaticOpener serves a fixed address to country table.
type StaticOpener struct {
	Countries map[string]string
}

func (o StaticOpener) Open() (Resolver, error) {
	return staticResolver(o.Countries), nil
}

type staticResolver map[string]string

func (r staticResolver) Country(ip string) (string, error) {
	if name, ok := r[ip]; ok && name != "" {
		return name, nil
	}
	return "", ErrNotFound
}

func (r staticResolver) Close() error { return nil }

// NullOpener resolves nothing; every record ends up Unknown.
type NullOpener struct{}

func (NullOpener) Open() (Resolver, error) {
	return staticResolver(nil), nil
}

// Enrich sets Country on every record and returns the number of failed lookups.
// Lookups are cached per call, so each distinct address is resolved once.
func Enrich(resolver Resolver, records []model.NormalizedRecord) int {
	cache := make(map[string]string)
	failures := 0
	for i := range records {
		country, failed := lookup(resolver, cache, records[i].SrcIP)
		if failed {
			failures++
		}
		records[i].Country = country
	}
	return failures
}

// EnrichAlerts is Enrich for alert records.
func EnrichAlerts(resolver Resolver, alerts []model.AlertRecord) int {
	cache := make(map[string]string)
	failures := 0
	for i := range alerts {
		country, failed := lookup(resolver, cache, alerts[i].SrcIP)
		if failed {
			failures++
		}
		alerts[i].Country = country
	}
	return failures
}

func lookup(resolver Resolver, cache map[string]string, ip string) (string, bool) {
	if country, ok := cache[ip]; ok {
		return country, country == model.UnknownCountry
	}
	country, err := resolver.Country(ip)
	if err != nil {
		country = model.UnknownCountry
	}
	cache[ip] = country
	return country, err != nil
}
