package model

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}

// Geolocator resolves a destination address to a location. Implementations
// never return an error for malformed or unlisted addresses; they fall back
// to the "Unknown" sentinel instead.
type Geolocator interface {
	Lookup(ip string) Location
	Close() error
}
