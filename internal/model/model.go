package model

import (
	"time"
)

// PacketEvent holds the metadata the pipeline needs from a single observed
// packet. Link-layer capture lives outside this module; events arrive over
// the probe transport or from an offline pcap replay.
type PacketEvent struct {
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	DstPort   uint16    `json:"dst_port"`
	Protocol  string    `json:"protocol"` // "TCP", "UDP", ...
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// FlowKey identifies one in-progress accumulation window. It is comparable
// and keys the aggregator's accumulator map directly.
type FlowKey struct {
	SrcIP    string
	DstIP    string
	DstPort  uint16
	Protocol string
}

// Flow is one persisted aggregation of traffic for a (device, destination,
// port, protocol) connection. Rows are append-only; a long-lived connection
// produces one row per flush cycle, each carrying the running totals as of
// that flush.
type Flow struct {
	ID            string
	DeviceID      int64
	DestIP        string
	DestPort      uint16
	Protocol      string
	DestCountry   string
	DestCity      string
	DestLatitude  float64
	DestLongitude float64
	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint64
	Timestamp     time.Time
}

// Device is a host discovered on the local network. The discovery subsystem
// owns these records; the pipeline only reads them.
type Device struct {
	ID         int64
	MACAddress string
	IPAddress  string
	Hostname   string
	Vendor     string
	DeviceType string // camera, smart_speaker, smart_bulb, ...
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Severity of an alert. Ordering for tie-break is high > medium > low.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank maps a severity to a comparable weight.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Alert types emitted by the detector battery.
const (
	AlertUnusualTime           = "unusual_time"
	AlertHighVolume            = "high_volume"
	AlertSuspiciousDestination = "suspicious_destination"
	AlertExcessiveConnections  = "excessive_connections"
	AlertCountryHopping        = "country_hopping"
	AlertUnusualPort           = "unusual_port"
	AlertTorConnection         = "tor_connection"
	AlertExcessiveUpload       = "excessive_upload"
	AlertBlacklistedCountry    = "blacklisted_country"
	AlertNewDevice             = "new_device"
	AlertBehaviorChange        = "behavior_change"
	AlertMACSpoofing           = "mac_spoofing"
)

// Alert is one detected anomalous condition for a device. Immutable after
// creation except for Acknowledged, which only the UI layer flips.
type Alert struct {
	ID           string
	DeviceID     int64
	AlertType    string
	Severity     Severity
	Message      string
	Metadata     map[string]any
	Timestamp    time.Time
	Acknowledged bool
}

// Baseline is the derived per-device statistical summary over all
// historical flows. Cached, never persisted.
type Baseline struct {
	AvgBytes   float64
	MaxBytes   uint64
	TotalFlows uint64
}

// DeviceUsage is one row of a per-device bandwidth rollup.
type DeviceUsage struct {
	DeviceID   int64
	Hostname   string
	Vendor     string
	DeviceType string
	IPAddress  string
	BytesSent  uint64
	FlowCount  uint64

	// Derived by the reporter, not the store. Severity is the hog
	// classification (medium/high/critical), empty for non-hogs.
	AvgMbps    float64
	Percentage float64
	Severity   string
}

// TimelineBucket is one hour of traffic for charting.
type TimelineBucket struct {
	Hour      time.Time
	BytesSent uint64
	FlowCount uint64
}

// Destination is one row of a top-destinations rollup.
type Destination struct {
	DestIP      string
	DestCountry string
	DestCity    string
	BytesSent   uint64
	FlowCount   uint64
}

// Totals is a coarse snapshot of stored record counts.
type Totals struct {
	Devices    uint64
	Flows      uint64
	OpenAlerts uint64
}

// Location is the resolved geography of a destination address. Private and
// loopback ranges resolve to country "Local Network" without a lookup;
// unresolvable addresses resolve to "Unknown".
type Location struct {
	Country     string
	CountryCode string
	City        string
	Latitude    float64
	Longitude   float64
	Continent   string
}

const (
	CountryLocal   = "Local Network"
	CountryUnknown = "Unknown"
)

// LocalLocation is the fixed sentinel for private/loopback destinations.
func LocalLocation() Location {
	return Location{Country: CountryLocal, CountryCode: "LAN", City: "Private", Continent: "Local"}
}

// UnknownLocation is the fixed sentinel for addresses the resolver cannot
// place. Detectors treat it as non-suspicious.
func UnknownLocation() Location {
	return Location{Country: CountryUnknown, CountryCode: "??", City: CountryUnknown, Continent: CountryUnknown}
}
