package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/model"
)

var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		ID         Int64,
		MACAddress String,
		IPAddress  String,
		Hostname   String,
		Vendor     String,
		DeviceType String,
		FirstSeen  DateTime,
		LastSeen   DateTime
	) ENGINE = ReplacingMergeTree(LastSeen)
	ORDER BY MACAddress;`,

	`CREATE TABLE IF NOT EXISTS flows (
		ID            String,
		DeviceID      Int64,
		DestIP        String,
		DestPort      UInt16,
		Protocol      String,
		DestCountry   String,
		DestCity      String,
		DestLatitude  Float64,
		DestLongitude Float64,
		BytesSent     UInt64,
		BytesReceived UInt64,
		PacketsSent   UInt64,
		Timestamp     DateTime
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(Timestamp)
	ORDER BY (DeviceID, Timestamp);`,

	`CREATE TABLE IF NOT EXISTS alerts (
		ID           String,
		DeviceID     Int64,
		AlertType    String,
		Severity     String,
		Message      String,
		Metadata     String,
		Timestamp    DateTime,
		Acknowledged UInt8
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(Timestamp)
	ORDER BY (Timestamp);`,
}

// Store implements model.Store on ClickHouse. Flow and alert writes go
// through prepared batches; devices live in a ReplacingMergeTree keyed by
// MAC so upserts are plain inserts deduplicated on read.
type Store struct {
	conn driver.Conn
	log  zerolog.Logger
}

// New connects to ClickHouse and ensures the schema exists.
func New(cfg config.ClickHouseConfig, log zerolog.Logger) (*Store, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range createTableStatements {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	s := &Store{conn: conn, log: log.With().Str("component", "clickhouse").Logger()}
	s.log.Info().Msg("connected to ClickHouse and ensured schema exists")
	return s, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// UpsertDevice inserts a device row; the ReplacingMergeTree keeps the
// newest row per MAC. IDs are assigned from max(ID)+1, which is safe with a
// single discovery writer.
func (s *Store) UpsertDevice(ctx context.Context, d *model.Device) error {
	existing, err := s.DeviceByMAC(ctx, d.MACAddress)
	if err != nil {
		return err
	}
	if existing != nil {
		d.ID = existing.ID
		d.FirstSeen = existing.FirstSeen
	} else if d.ID == 0 {
		var maxID int64
		row := s.conn.QueryRow(ctx, `SELECT coalesce(max(ID), 0) FROM devices`)
		if err := row.Scan(&maxID); err != nil {
			return fmt.Errorf("failed to allocate device id: %w", err)
		}
		d.ID = maxID + 1
	}

	err = s.conn.Exec(ctx,
		`INSERT INTO devices (ID, MACAddress, IPAddress, Hostname, Vendor, DeviceType, FirstSeen, LastSeen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MACAddress, d.IPAddress, d.Hostname, d.Vendor, d.DeviceType, d.FirstSeen, d.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", d.MACAddress, err)
	}
	return nil
}

func (s *Store) scanDevices(ctx context.Context, query string, args ...any) ([]*model.Device, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var out []*model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.MACAddress, &d.IPAddress, &d.Hostname, &d.Vendor, &d.DeviceType, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

const deviceColumns = `ID, MACAddress, IPAddress, Hostname, Vendor, DeviceType, FirstSeen, LastSeen`

// DeviceByID returns the device with the given ID, or nil.
func (s *Store) DeviceByID(ctx context.Context, id int64) (*model.Device, error) {
	devices, err := s.scanDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices FINAL WHERE ID = ? LIMIT 1`, id)
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return devices[0], nil
}

// DeviceByIP returns the device holding the given address, or nil.
func (s *Store) DeviceByIP(ctx context.Context, ip string) (*model.Device, error) {
	devices, err := s.scanDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices FINAL WHERE IPAddress = ? ORDER BY LastSeen DESC LIMIT 1`, ip)
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return devices[0], nil
}

// DeviceByMAC returns the device with the given MAC, or nil.
func (s *Store) DeviceByMAC(ctx context.Context, mac string) (*model.Device, error) {
	devices, err := s.scanDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices FINAL WHERE MACAddress = ? LIMIT 1`, mac)
	if err != nil || len(devices) == 0 {
		return nil, err
	}
	return devices[0], nil
}

// Devices enumerates all known devices.
func (s *Store) Devices(ctx context.Context) ([]*model.Device, error) {
	return s.scanDevices(ctx, `SELECT `+deviceColumns+` FROM devices FINAL ORDER BY ID`)
}

// DevicesSharingIP returns devices on the same address under another MAC.
func (s *Store) DevicesSharingIP(ctx context.Context, ip, excludeMAC string) ([]*model.Device, error) {
	return s.scanDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices FINAL WHERE IPAddress = ? AND MACAddress != ?`, ip, excludeMAC)
}

// AppendFlows inserts flow rows in one batch. Rows are append-only; a
// retried flush may duplicate rows for still-active flows.
func (s *Store) AppendFlows(ctx context.Context, flows []*model.Flow) error {
	if len(flows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO flows")
	if err != nil {
		return fmt.Errorf("failed to prepare flow batch: %w", err)
	}
	for _, f := range flows {
		err = batch.Append(f.ID, f.DeviceID, f.DestIP, f.DestPort, f.Protocol,
			f.DestCountry, f.DestCity, f.DestLatitude, f.DestLongitude,
			f.BytesSent, f.BytesReceived, f.PacketsSent, f.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send flow batch: %w", err)
	}

	s.log.Debug().Int("flows", len(flows)).Msg("wrote flow batch")
	return nil
}

// FlowsByDevice returns a device's flows, newest first.
func (s *Store) FlowsByDevice(ctx context.Context, deviceID int64, limit int) ([]*model.Flow, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT ID, DeviceID, DestIP, DestPort, Protocol, DestCountry, DestCity,
		        DestLatitude, DestLongitude, BytesSent, BytesReceived, PacketsSent, Timestamp
		 FROM flows WHERE DeviceID = ? ORDER BY Timestamp DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var out []*model.Flow
	for rows.Next() {
		var f model.Flow
		if err := rows.Scan(&f.ID, &f.DeviceID, &f.DestIP, &f.DestPort, &f.Protocol,
			&f.DestCountry, &f.DestCity, &f.DestLatitude, &f.DestLongitude,
			&f.BytesSent, &f.BytesReceived, &f.PacketsSent, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// FlowStats aggregates avg/max/count over all of a device's flows.
func (s *Store) FlowStats(ctx context.Context, deviceID int64) (model.Baseline, bool, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT coalesce(avg(BytesSent), 0), coalesce(max(BytesSent), 0), count()
		 FROM flows WHERE DeviceID = ?`, deviceID)

	var b model.Baseline
	if err := row.Scan(&b.AvgBytes, &b.MaxBytes, &b.TotalFlows); err != nil {
		return model.Baseline{}, false, fmt.Errorf("failed to scan flow stats: %w", err)
	}
	if b.TotalFlows == 0 {
		return model.Baseline{}, false, nil
	}
	return b, true, nil
}

// DailyByteAverage averages per-day byte totals over [from, to).
func (s *Store) DailyByteAverage(ctx context.Context, deviceID int64, from, to time.Time) (float64, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT coalesce(avg(DailyBytes), 0) FROM (
			SELECT toDate(Timestamp) AS Day, sum(BytesSent) AS DailyBytes
			FROM flows
			WHERE DeviceID = ? AND Timestamp >= ? AND Timestamp < ?
			GROUP BY Day
		)`, deviceID, from, to)

	var avg float64
	if err := row.Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to scan daily average: %w", err)
	}
	return avg, nil
}

// BytesSince sums bytes sent by a device since the given time.
func (s *Store) BytesSince(ctx context.Context, deviceID int64, since time.Time) (uint64, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT coalesce(sum(BytesSent), 0) FROM flows WHERE DeviceID = ? AND Timestamp >= ?`,
		deviceID, since)

	var sum uint64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to scan byte sum: %w", err)
	}
	return sum, nil
}

// CountFlowsTo counts a device's flows to one destination since the given time.
func (s *Store) CountFlowsTo(ctx context.Context, deviceID int64, destIP string, since time.Time) (uint64, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT count() FROM flows WHERE DeviceID = ? AND DestIP = ? AND Timestamp >= ?`,
		deviceID, destIP, since)

	var n uint64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to scan flow count: %w", err)
	}
	return n, nil
}

// DistinctCountries lists distinct destination countries, excluding local
// and unknown sentinels.
func (s *Store) DistinctCountries(ctx context.Context, deviceID int64, since time.Time) ([]string, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT DISTINCT DestCountry FROM flows
		 WHERE DeviceID = ? AND Timestamp >= ?
		   AND DestCountry NOT IN (?, ?, '')`,
		deviceID, since, model.CountryLocal, model.CountryUnknown)
	if err != nil {
		return nil, fmt.Errorf("failed to query countries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UsageByDevice sums bytes and flow counts per device since the given time.
func (s *Store) UsageByDevice(ctx context.Context, since time.Time) ([]model.DeviceUsage, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT f.DeviceID, sum(f.BytesSent), count(),
		        any(d.Hostname), any(d.Vendor), any(d.DeviceType), any(d.IPAddress)
		 FROM flows AS f
		 LEFT JOIN devices AS d ON d.ID = f.DeviceID
		 WHERE f.Timestamp >= ?
		 GROUP BY f.DeviceID
		 ORDER BY sum(f.BytesSent) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []model.DeviceUsage
	for rows.Next() {
		var u model.DeviceUsage
		if err := rows.Scan(&u.DeviceID, &u.BytesSent, &u.FlowCount,
			&u.Hostname, &u.Vendor, &u.DeviceType, &u.IPAddress); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Timeline buckets bytes by hour. deviceID 0 covers all devices.
func (s *Store) Timeline(ctx context.Context, deviceID int64, since time.Time) ([]model.TimelineBucket, error) {
	query := `SELECT toStartOfHour(Timestamp) AS Hour, sum(BytesSent), count()
	          FROM flows WHERE Timestamp >= ?`
	args := []any{since}
	if deviceID != 0 {
		query += ` AND DeviceID = ?`
		args = append(args, deviceID)
	}
	query += ` GROUP BY Hour ORDER BY Hour`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var out []model.TimelineBucket
	for rows.Next() {
		var b model.TimelineBucket
		if err := rows.Scan(&b.Hour, &b.BytesSent, &b.FlowCount); err != nil {
			return nil, fmt.Errorf("failed to scan timeline bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TopDestinations groups flows by destination, ordered by bytes descending.
func (s *Store) TopDestinations(ctx context.Context, deviceID int64, limit int) ([]model.Destination, error) {
	query := `SELECT DestIP, DestCountry, DestCity, sum(BytesSent), count() FROM flows`
	args := []any{}
	if deviceID != 0 {
		query += ` WHERE DeviceID = ?`
		args = append(args, deviceID)
	}
	query += ` GROUP BY DestIP, DestCountry, DestCity ORDER BY sum(BytesSent) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var out []model.Destination
	for rows.Next() {
		var d model.Destination
		if err := rows.Scan(&d.DestIP, &d.DestCountry, &d.DestCity, &d.BytesSent, &d.FlowCount); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendAlerts inserts alert rows in one batch. Metadata is stored as JSON.
func (s *Store) AppendAlerts(ctx context.Context, alerts []*model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO alerts")
	if err != nil {
		return fmt.Errorf("failed to prepare alert batch: %w", err)
	}
	for _, a := range alerts {
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal alert metadata: %w", err)
		}
		ack := uint8(0)
		if a.Acknowledged {
			ack = 1
		}
		err = batch.Append(a.ID, a.DeviceID, a.AlertType, string(a.Severity), a.Message, string(meta), a.Timestamp, ack)
		if err != nil {
			return fmt.Errorf("failed to append alert to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send alert batch: %w", err)
	}

	s.log.Debug().Int("alerts", len(alerts)).Msg("wrote alert batch")
	return nil
}

// RecentAlerts returns alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT ID, DeviceID, AlertType, Severity, Message, Metadata, Timestamp, Acknowledged
		 FROM alerts ORDER BY Timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		var a model.Alert
		var sev, meta string
		var ack uint8
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.AlertType, &sev, &a.Message, &meta, &a.Timestamp, &ack); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = model.Severity(sev)
		a.Acknowledged = ack != 0
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
				s.log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to decode alert metadata")
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert flips the acknowledged flag via a lightweight mutation.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	err := s.conn.Exec(ctx, `ALTER TABLE alerts UPDATE Acknowledged = 1 WHERE ID = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	return nil
}

// Totals reports coarse record counts.
func (s *Store) Totals(ctx context.Context) (model.Totals, error) {
	var t model.Totals

	if err := s.conn.QueryRow(ctx, `SELECT count() FROM devices FINAL`).Scan(&t.Devices); err != nil {
		return t, fmt.Errorf("failed to count devices: %w", err)
	}
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM flows`).Scan(&t.Flows); err != nil {
		return t, fmt.Errorf("failed to count flows: %w", err)
	}
	if err := s.conn.QueryRow(ctx, `SELECT countIf(Acknowledged = 0) FROM alerts`).Scan(&t.OpenAlerts); err != nil {
		return t, fmt.Errorf("failed to count alerts: %w", err)
	}
	return t, nil
}

// Close releases the ClickHouse connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
