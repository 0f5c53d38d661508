package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"iotsentry/internal/model"
)

// Store is an in-memory model.Store. It backs tests and single-host runs
// where no ClickHouse instance is available; semantics match the
// ClickHouse implementation, including append-only flows and alerts.
type Store struct {
	mu           sync.RWMutex
	nextDeviceID int64
	devices      []*model.Device
	flows        []*model.Flow
	alerts       []*model.Alert
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// UpsertDevice inserts or updates a device keyed by MAC address.
func (s *Store) UpsertDevice(_ context.Context, d *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.devices {
		if existing.MACAddress == d.MACAddress {
			existing.IPAddress = d.IPAddress
			existing.Hostname = d.Hostname
			existing.Vendor = d.Vendor
			existing.DeviceType = d.DeviceType
			existing.LastSeen = d.LastSeen
			d.ID = existing.ID
			return nil
		}
	}

	s.nextDeviceID++
	clone := *d
	clone.ID = s.nextDeviceID
	s.devices = append(s.devices, &clone)
	d.ID = clone.ID
	return nil
}

// DeviceByID returns the device with the given ID, or nil.
func (s *Store) DeviceByID(_ context.Context, id int64) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.ID == id {
			clone := *d
			return &clone, nil
		}
	}
	return nil, nil
}

// DeviceByIP returns the device whose last-known address matches, or nil.
func (s *Store) DeviceByIP(_ context.Context, ip string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.IPAddress == ip {
			clone := *d
			return &clone, nil
		}
	}
	return nil, nil
}

// DeviceByMAC returns the device with the given MAC address, or nil.
func (s *Store) DeviceByMAC(_ context.Context, mac string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.MACAddress == mac {
			clone := *d
			return &clone, nil
		}
	}
	return nil, nil
}

// Devices enumerates all known devices.
func (s *Store) Devices(_ context.Context) ([]*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		clone := *d
		out = append(out, &clone)
	}
	return out, nil
}

// DevicesSharingIP returns devices on the same address under another MAC.
func (s *Store) DevicesSharingIP(_ context.Context, ip, excludeMAC string) ([]*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Device
	for _, d := range s.devices {
		if d.IPAddress == ip && d.MACAddress != excludeMAC {
			clone := *d
			out = append(out, &clone)
		}
	}
	return out, nil
}

// AppendFlows appends flow rows. Rows are never updated afterwards.
func (s *Store) AppendFlows(_ context.Context, flows []*model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range flows {
		clone := *f
		s.flows = append(s.flows, &clone)
	}
	return nil
}

// FlowsByDevice returns a device's flows, newest first.
func (s *Store) FlowsByDevice(_ context.Context, deviceID int64, limit int) ([]*model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Flow
	for _, f := range s.flows {
		if f.DeviceID == deviceID {
			clone := *f
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FlowStats aggregates avg/max/count over all of a device's flows.
func (s *Store) FlowStats(_ context.Context, deviceID int64) (model.Baseline, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b model.Baseline
	var sum uint64
	for _, f := range s.flows {
		if f.DeviceID != deviceID {
			continue
		}
		b.TotalFlows++
		sum += f.BytesSent
		if f.BytesSent > b.MaxBytes {
			b.MaxBytes = f.BytesSent
		}
	}
	if b.TotalFlows == 0 {
		return model.Baseline{}, false, nil
	}
	b.AvgBytes = float64(sum) / float64(b.TotalFlows)
	return b, true, nil
}

// DailyByteAverage averages per-day byte totals over [from, to). Only days
// with traffic contribute to the average.
func (s *Store) DailyByteAverage(_ context.Context, deviceID int64, from, to time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	daily := make(map[string]uint64)
	for _, f := range s.flows {
		if f.DeviceID != deviceID || f.Timestamp.Before(from) || !f.Timestamp.Before(to) {
			continue
		}
		daily[f.Timestamp.UTC().Format("2006-01-02")] += f.BytesSent
	}
	if len(daily) == 0 {
		return 0, nil
	}
	var sum uint64
	for _, v := range daily {
		sum += v
	}
	return float64(sum) / float64(len(daily)), nil
}

// BytesSince sums bytes sent by a device since the given time.
func (s *Store) BytesSince(_ context.Context, deviceID int64, since time.Time) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum uint64
	for _, f := range s.flows {
		if f.DeviceID == deviceID && !f.Timestamp.Before(since) {
			sum += f.BytesSent
		}
	}
	return sum, nil
}

// CountFlowsTo counts a device's flows to one destination since the given time.
func (s *Store) CountFlowsTo(_ context.Context, deviceID int64, destIP string, since time.Time) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for _, f := range s.flows {
		if f.DeviceID == deviceID && f.DestIP == destIP && !f.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// DistinctCountries lists distinct destination countries, excluding local
// and unknown sentinels.
func (s *Store) DistinctCountries(_ context.Context, deviceID int64, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, f := range s.flows {
		if f.DeviceID != deviceID || f.Timestamp.Before(since) {
			continue
		}
		c := f.DestCountry
		if c == "" || c == model.CountryLocal || c == model.CountryUnknown {
			continue
		}
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

// UsageByDevice sums bytes and flow counts per device since the given time.
func (s *Store) UsageByDevice(_ context.Context, since time.Time) ([]model.DeviceUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDevice := make(map[int64]*model.DeviceUsage)
	for _, f := range s.flows {
		if f.Timestamp.Before(since) {
			continue
		}
		u, ok := byDevice[f.DeviceID]
		if !ok {
			u = &model.DeviceUsage{DeviceID: f.DeviceID}
			byDevice[f.DeviceID] = u
		}
		u.BytesSent += f.BytesSent
		u.FlowCount++
	}

	var out []model.DeviceUsage
	for _, u := range byDevice {
		for _, d := range s.devices {
			if d.ID == u.DeviceID {
				u.Hostname = d.Hostname
				u.Vendor = d.Vendor
				u.DeviceType = d.DeviceType
				u.IPAddress = d.IPAddress
				break
			}
		}
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BytesSent > out[j].BytesSent })
	return out, nil
}

// Timeline buckets bytes by hour. deviceID 0 covers all devices.
func (s *Store) Timeline(_ context.Context, deviceID int64, since time.Time) ([]model.TimelineBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byHour := make(map[time.Time]*model.TimelineBucket)
	for _, f := range s.flows {
		if f.Timestamp.Before(since) || (deviceID != 0 && f.DeviceID != deviceID) {
			continue
		}
		hour := f.Timestamp.UTC().Truncate(time.Hour)
		b, ok := byHour[hour]
		if !ok {
			b = &model.TimelineBucket{Hour: hour}
			byHour[hour] = b
		}
		b.BytesSent += f.BytesSent
		b.FlowCount++
	}

	out := make([]model.TimelineBucket, 0, len(byHour))
	for _, b := range byHour {
		out = append(out, *b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}

// TopDestinations groups flows by destination, ordered by bytes descending.
func (s *Store) TopDestinations(_ context.Context, deviceID int64, limit int) ([]model.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type destKey struct{ ip, country, city string }
	byDest := make(map[destKey]*model.Destination)
	for _, f := range s.flows {
		if deviceID != 0 && f.DeviceID != deviceID {
			continue
		}
		k := destKey{f.DestIP, f.DestCountry, f.DestCity}
		d, ok := byDest[k]
		if !ok {
			d = &model.Destination{DestIP: f.DestIP, DestCountry: f.DestCountry, DestCity: f.DestCity}
			byDest[k] = d
		}
		d.BytesSent += f.BytesSent
		d.FlowCount++
	}

	out := make([]model.Destination, 0, len(byDest))
	for _, d := range byDest {
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BytesSent > out[j].BytesSent })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendAlerts appends alert rows.
func (s *Store) AppendAlerts(_ context.Context, alerts []*model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range alerts {
		clone := *a
		s.alerts = append(s.alerts, &clone)
	}
	return nil
}

// RecentAlerts returns alerts, newest first.
func (s *Store) RecentAlerts(_ context.Context, limit int) ([]*model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		clone := *a
		out = append(out, &clone)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AcknowledgeAlert flips the acknowledged flag on one alert.
func (s *Store) AcknowledgeAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", id)
}

// Totals reports coarse record counts.
func (s *Store) Totals(_ context.Context) (model.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := model.Totals{
		Devices: uint64(len(s.devices)),
		Flows:   uint64(len(s.flows)),
	}
	for _, a := range s.alerts {
		if !a.Acknowledged {
			t.OpenAlerts++
		}
	}
	return t, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
