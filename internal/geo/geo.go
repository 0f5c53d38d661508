package geo

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog"

	"iotsentry/internal/model"
)

// cacheLimit bounds the lookup cache; the whole map is dropped when it
// fills rather than tracking recency per entry.
const cacheLimit = 4096

// Resolver resolves destination addresses against a local GeoLite2-City
// database. Private and loopback ranges short-circuit to "Local Network"
// without touching the database; anything unresolvable maps to the
// "Unknown" sentinel. Lookup never fails.
type Resolver struct {
	reader *geoip2.Reader
	log    zerolog.Logger

	mu    sync.Mutex
	cache map[string]model.Location
}

// NewResolver opens the GeoLite2 database at dbPath. An empty path is
// valid: the resolver runs with lookups disabled and every public address
// resolves to Unknown.
func NewResolver(dbPath string, log zerolog.Logger) (*Resolver, error) {
	r := &Resolver{
		log:   log.With().Str("component", "geo").Logger(),
		cache: make(map[string]model.Location),
	}

	if dbPath == "" {
		r.log.Warn().Msg("no GeoLite2 database configured, public addresses resolve to Unknown")
		return r, nil
	}

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoLite2 database %s: %w", dbPath, err)
	}
	r.reader = reader
	r.log.Info().Str("path", dbPath).Msg("GeoLite2 database loaded")
	return r, nil
}

// Lookup resolves one address.
func (r *Resolver) Lookup(ip string) model.Location {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.UnknownLocation()
	}
	if isLocal(parsed) {
		return model.LocalLocation()
	}

	r.mu.Lock()
	if loc, ok := r.cache[ip]; ok {
		r.mu.Unlock()
		return loc
	}
	r.mu.Unlock()

	loc := r.resolve(parsed)

	r.mu.Lock()
	if len(r.cache) >= cacheLimit {
		r.cache = make(map[string]model.Location)
	}
	r.cache[ip] = loc
	r.mu.Unlock()

	return loc
}

func (r *Resolver) resolve(ip net.IP) model.Location {
	if r.reader == nil {
		return model.UnknownLocation()
	}

	rec, err := r.reader.City(ip)
	if err != nil {
		// Not-found and malformed records both degrade to Unknown.
		return model.UnknownLocation()
	}

	loc := model.Location{
		Country:     rec.Country.Names["en"],
		CountryCode: rec.Country.IsoCode,
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
		Continent:   rec.Continent.Names["en"],
	}
	if loc.Country == "" {
		loc.Country = model.CountryUnknown
	}
	if loc.CountryCode == "" {
		loc.CountryCode = "??"
	}
	if loc.City == "" {
		loc.City = model.CountryUnknown
	}
	if loc.Continent == "" {
		loc.Continent = model.CountryUnknown
	}
	return loc
}

// Close releases the database handle.
func (r *Resolver) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}

func isLocal(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Static is a fixed-table Geolocator for tests and offline runs.
type Static struct {
	entries map[string]model.Location
}

// NewStatic creates a Static resolver over the given address table.
func NewStatic(entries map[string]model.Location) *Static {
	return &Static{entries: entries}
}

// Lookup resolves from the fixed table, with the same local/unknown
// sentinel behavior as the database-backed resolver.
func (s *Static) Lookup(ip string) model.Location {
	if parsed := net.ParseIP(ip); parsed != nil && isLocal(parsed) {
		return model.LocalLocation()
	}
	if loc, ok := s.entries[ip]; ok {
		return loc
	}
	return model.UnknownLocation()
}

// Close is a no-op for the static resolver.
func (s *Static) Close() error {
	return nil
}
