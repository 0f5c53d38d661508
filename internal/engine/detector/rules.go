package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"iotsentry/internal/model"
)

// Detection thresholds.
const (
	highVolumeThreshold  = 100 * 1024 * 1024 // bytes per single flow
	excessiveConnections = 100               // flows per hour to one destination
	countryHopThreshold  = 3                 // distinct countries per hour
	uploadRatioThreshold = 3.0
	uploadRatioFloor     = 10000 // bytes sent below this never flag
	newDeviceWindow      = time.Hour
	spoofingWindow       = 24 * time.Hour
)

// Nightly window for the unusual-time check, inclusive on both ends.
const (
	unusualHourStart = 2 * 3600 // 02:00:00
	unusualHourEnd   = 6 * 3600 // 06:00:00
)

// Device categories for destination heuristics.
var (
	cameraTypes  = []string{"camera", "security_camera", "doorbell", "baby_monitor"}
	speakerTypes = []string{"smart_speaker", "smart_display"}

	// Common hosting countries for camera cloud backends.
	cameraAllowedCountries = []string{
		"United States", "Germany", "Ireland", "Netherlands", "United Kingdom", "Canada",
	}
	// Voice assistants overwhelmingly terminate in US regions.
	speakerAllowedCountries = []string{"United States"}
)

// Expected destination ports per declared device type. Types absent from
// the table skip the unusual-port rule entirely.
var normalPorts = map[string][]uint16{
	"camera":        {80, 443, 554, 1935, 8080, 8443},
	"smart_speaker": {443, 8443, 4070},
	"smart_bulb":    {443, 8080},
	"smart_plug":    {443, 8080},
	"thermostat":    {443, 8080},
	"smart_tv":      {80, 443, 8008, 8080, 9000},
	"router":        {80, 443, 8080},
}

// Ports whose appearance on an IoT device warrants high severity.
var riskyPorts = map[uint16]string{
	22:   "SSH (remote access)",
	23:   "Telnet (insecure)",
	3389: "RDP (remote desktop)",
	445:  "SMB (file sharing)",
	1433: "SQL Server",
	3306: "MySQL",
	5432: "PostgreSQL",
}

// Known Tor exit-node address prefixes. Prefix match, not full range math.
var torExitPrefixes = []string{
	"185.220.101.",
	"185.220.102.",
	"199.249.",
}

// Countries commonly hosting malicious infrastructure.
var highRiskCountries = []string{"North Korea", "Iran"}

func newAlert(deviceID int64, alertType string, sev model.Severity, msg string, meta map[string]any, ts time.Time) *model.Alert {
	return &model.Alert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		AlertType: alertType,
		Severity:  sev,
		Message:   msg,
		Metadata:  meta,
		Timestamp: ts,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// country normalizes missing geolocation to the Unknown sentinel so no rule
// ever raises on malformed geo data.
func country(f *model.Flow) string {
	if f.DestCountry == "" {
		return model.CountryUnknown
	}
	return f.DestCountry
}

func (d *Detector) checkUnusualTime(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	t := f.Timestamp
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if secs < unusualHourStart || secs > unusualHourEnd {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertUnusualTime, model.SeverityMedium,
		fmt.Sprintf("Connection to %s (%s) during unusual hours (%s)", f.DestIP, country(f), t.Format("15:04")),
		map[string]any{
			"dest_ip":      f.DestIP,
			"dest_country": country(f),
			"timestamp":    t.Format(time.RFC3339),
		}, f.Timestamp), nil
}

func (d *Detector) checkHighVolume(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	if f.BytesSent <= highVolumeThreshold {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertHighVolume, model.SeverityHigh,
		fmt.Sprintf("Unusually high data volume: %.1f MB sent", float64(f.BytesSent)/(1024*1024)),
		map[string]any{
			"dest_ip":    f.DestIP,
			"bytes_sent": f.BytesSent,
		}, f.Timestamp), nil
}

func (d *Detector) checkSuspiciousDestination(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	c := country(f)
	if c == model.CountryLocal || c == model.CountryUnknown {
		return nil, nil
	}

	if contains(cameraTypes, dev.DeviceType) && !contains(cameraAllowedCountries, c) {
		return newAlert(dev.ID, model.AlertSuspiciousDestination, model.SeverityHigh,
			fmt.Sprintf("Camera connecting to %s (%s)", c, f.DestIP),
			map[string]any{
				"device_type":        dev.DeviceType,
				"dest_country":       c,
				"dest_ip":            f.DestIP,
				"expected_countries": cameraAllowedCountries,
			}, f.Timestamp), nil
	}

	if contains(speakerTypes, dev.DeviceType) && !contains(speakerAllowedCountries, c) {
		return newAlert(dev.ID, model.AlertSuspiciousDestination, model.SeverityMedium,
			fmt.Sprintf("Voice assistant connecting to %s", c),
			map[string]any{
				"device_type":  dev.DeviceType,
				"dest_country": c,
			}, f.Timestamp), nil
	}

	return nil, nil
}

func (d *Detector) checkExcessiveConnections(ctx context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	count, err := d.store.CountFlowsTo(ctx, dev.ID, f.DestIP, d.now().Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count flows to %s: %w", f.DestIP, err)
	}
	if count <= excessiveConnections {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertExcessiveConnections, model.SeverityMedium,
		fmt.Sprintf("%d repeated connections to %s within the last hour", count, f.DestIP),
		map[string]any{
			"dest_ip":          f.DestIP,
			"connection_count": count,
			"threshold":        excessiveConnections,
		}, f.Timestamp), nil
}

func (d *Detector) checkCountryHopping(ctx context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	countries, err := d.store.DistinctCountries(ctx, dev.ID, d.now().Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to list destination countries: %w", err)
	}
	if len(countries) < countryHopThreshold {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertCountryHopping, model.SeverityHigh,
		fmt.Sprintf("Device contacted %d countries within the last hour", len(countries)),
		map[string]any{
			"countries": countries,
			"count":     len(countries),
		}, f.Timestamp), nil
}

func (d *Detector) checkUnusualPort(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	expected, ok := normalPorts[dev.DeviceType]
	if !ok {
		// No port profile for this type: skip rather than false-positive.
		return nil, nil
	}
	for _, p := range expected {
		if p == f.DestPort {
			return nil, nil
		}
	}

	severity := model.SeverityMedium
	portDesc := fmt.Sprintf("port %d", f.DestPort)
	if desc, risky := riskyPorts[f.DestPort]; risky {
		severity = model.SeverityHigh
		portDesc = desc
	}

	return newAlert(dev.ID, model.AlertUnusualPort, severity,
		fmt.Sprintf("IoT device using %s, unusual for %s", portDesc, dev.DeviceType),
		map[string]any{
			"device_type":    dev.DeviceType,
			"dest_port":      f.DestPort,
			"dest_ip":        f.DestIP,
			"expected_ports": expected,
		}, f.Timestamp), nil
}

func (d *Detector) checkTorConnection(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	for _, prefix := range torExitPrefixes {
		if strings.HasPrefix(f.DestIP, prefix) {
			return newAlert(dev.ID, model.AlertTorConnection, model.SeverityHigh,
				fmt.Sprintf("Device connecting to Tor exit node (%s)", f.DestIP),
				map[string]any{
					"dest_ip":   f.DestIP,
					"tor_range": prefix,
				}, f.Timestamp), nil
		}
	}
	return nil, nil
}

func (d *Detector) checkUploadRatio(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	// Guard division by zero and trivial flows.
	if f.BytesReceived == 0 || f.BytesSent < uploadRatioFloor {
		return nil, nil
	}
	ratio := float64(f.BytesSent) / float64(f.BytesReceived)
	if ratio <= uploadRatioThreshold {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertExcessiveUpload, model.SeverityMedium,
		fmt.Sprintf("Abnormal upload/download ratio %.1f:1", ratio),
		map[string]any{
			"bytes_sent":     f.BytesSent,
			"bytes_received": f.BytesReceived,
			"ratio":          ratio,
		}, f.Timestamp), nil
}

func (d *Detector) checkBlacklistedCountry(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	c := country(f)
	if !contains(highRiskCountries, c) {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertBlacklistedCountry, model.SeverityHigh,
		fmt.Sprintf("Connection to high-risk country: %s", c),
		map[string]any{
			"dest_country": c,
		}, f.Timestamp), nil
}

func (d *Detector) checkNewDevice(_ context.Context, f *model.Flow, dev *model.Device) (*model.Alert, error) {
	if d.now().Sub(dev.FirstSeen) >= newDeviceWindow {
		return nil, nil
	}
	return newAlert(dev.ID, model.AlertNewDevice, model.SeverityMedium,
		fmt.Sprintf("New device detected: %s (%s)", dev.Vendor, dev.MACAddress),
		map[string]any{
			"mac_address": dev.MACAddress,
			"vendor":      dev.Vendor,
			"first_seen":  dev.FirstSeen.Format(time.RFC3339),
		}, f.Timestamp), nil
}

func (d *Detector) checkBehaviorChange(ctx context.Context, _ *model.Flow, dev *model.Device) (*model.Alert, error) {
	return d.baselines.ComputeBehaviorChange(ctx, dev.ID, d.now())
}

func (d *Detector) checkMACSpoofing(ctx context.Context, _ *model.Flow, dev *model.Device) (*model.Alert, error) {
	if dev.IPAddress == "" {
		return nil, nil
	}
	others, err := d.store.DevicesSharingIP(ctx, dev.IPAddress, dev.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to look up devices sharing %s: %w", dev.IPAddress, err)
	}
	for _, old := range others {
		if d.now().Sub(old.LastSeen) < spoofingWindow {
			return newAlert(dev.ID, model.AlertMACSpoofing, model.SeverityHigh,
				fmt.Sprintf("Possible MAC spoofing: IP %s changed MAC", dev.IPAddress),
				map[string]any{
					"ip_address": dev.IPAddress,
					"old_mac":    old.MACAddress,
					"new_mac":    dev.MACAddress,
					"old_vendor": old.Vendor,
				}, d.now()), nil
		}
	}
	return nil, nil
}
