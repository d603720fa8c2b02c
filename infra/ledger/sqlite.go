package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openwash/fleetd/core/ingest"
	"github.com/openwash/fleetd/core/model"
)

// SQLiteLedger persists payment events and device records in a SQLite
// database. The UNIQUE index on the dedup columns is the hard
// idempotency backstop: when two retries of the same batch race past
// the application-level exists check, the second insert fails here and
// surfaces as ingest.ErrDuplicateKey instead of a double row.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path and ensures schema.
func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS payment_events (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        device_id TEXT NOT NULL,
        ts REAL NOT NULL,
        type TEXT NOT NULL,
        status TEXT NOT NULL,
        total_amount REAL NOT NULL,
        detail TEXT,
        ingested_at INTEGER NOT NULL,
        UNIQUE(device_id, ts, type, status, total_amount)
    );
    CREATE TABLE IF NOT EXISTS devices (
        id TEXT PRIMARY KEY,
        last_state TEXT,
        configs TEXT,
        updated_at INTEGER
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

// ExistsByDedupKey reports whether an event with the key's dedup
// columns is already persisted.
func (l *SQLiteLedger) ExistsByDedupKey(ctx context.Context, key string) (bool, error) {
	k, err := splitKey(key)
	if err != nil {
		return false, err
	}
	var one int
	err = l.db.QueryRowContext(ctx,
		`SELECT 1 FROM payment_events WHERE device_id = ? AND ts = ? AND type = ? AND status = ? AND total_amount = ?`,
		k.deviceID, k.ts, k.typ, k.status, k.amount).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertEvent persists one event. A uniqueness violation is reported
// as ingest.ErrDuplicateKey.
func (l *SQLiteLedger) InsertEvent(ctx context.Context, ev model.PaymentEvent) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO payment_events (device_id, ts, type, status, total_amount, detail, ingested_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.DeviceID, ev.Timestamp, string(ev.Type), string(ev.Status), ev.TotalAmount, string(detail), time.Now().Unix())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ingest.ErrDuplicateKey, ev.DedupKey())
	}
	return err
}

// CountEvents returns the number of persisted events for a device, or
// for the whole ledger when deviceID is empty.
func (l *SQLiteLedger) CountEvents(ctx context.Context, deviceID string) (int, error) {
	var n int
	var err error
	if deviceID == "" {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_events`).Scan(&n)
	} else {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_events WHERE device_id = ?`, deviceID).Scan(&n)
	}
	return n, err
}

// UpdateDeviceLastState replaces the device's last state report.
func (l *SQLiteLedger) UpdateDeviceLastState(ctx context.Context, deviceID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO devices (id, last_state, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET last_state = excluded.last_state, updated_at = excluded.updated_at`,
		deviceID, string(raw), time.Now().Unix())
	return err
}

// UpdateDeviceConfigs replaces the device's configuration variant.
func (l *SQLiteLedger) UpdateDeviceConfigs(ctx context.Context, deviceID string, configs model.Configs) error {
	raw, err := json.Marshal(configs)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO devices (id, configs, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET configs = excluded.configs, updated_at = excluded.updated_at`,
		deviceID, string(raw), time.Now().Unix())
	return err
}

// Device loads one device record. Missing devices return sql.ErrNoRows.
func (l *SQLiteLedger) Device(ctx context.Context, deviceID string) (model.Device, error) {
	var d model.Device
	var lastState, configs sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT id, last_state, configs FROM devices WHERE id = ?`, deviceID).
		Scan(&d.ID, &lastState, &configs)
	if err != nil {
		return model.Device{}, err
	}
	if lastState.Valid && lastState.String != "" {
		if err := json.Unmarshal([]byte(lastState.String), &d.LastState); err != nil {
			return model.Device{}, fmt.Errorf("unmarshal last_state: %w", err)
		}
	}
	if configs.Valid && configs.String != "" {
		if err := json.Unmarshal([]byte(configs.String), &d.Configs); err != nil {
			return model.Device{}, fmt.Errorf("unmarshal configs: %w", err)
		}
	}
	return d, nil
}

// ListDevices loads every known device record, ordered by id.
func (l *SQLiteLedger) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, last_state, configs FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		var d model.Device
		var lastState, configs sql.NullString
		if err := rows.Scan(&d.ID, &lastState, &configs); err != nil {
			return nil, err
		}
		if lastState.Valid && lastState.String != "" {
			if err := json.Unmarshal([]byte(lastState.String), &d.LastState); err != nil {
				return nil, fmt.Errorf("unmarshal last_state: %w", err)
			}
		}
		if configs.Valid && configs.String != "" {
			if err := json.Unmarshal([]byte(configs.String), &d.Configs); err != nil {
				return nil, fmt.Errorf("unmarshal configs: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error { return l.db.Close() }

type dedupKey struct {
	deviceID string
	ts       float64
	typ      string
	status   string
	amount   float64
}

// splitKey decomposes the dedup key produced by
// model.PaymentEvent.DedupKey. The numeric fields are parsed back so
// the query compares against the REAL columns with matching affinity.
func splitKey(key string) (dedupKey, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 5 {
		return dedupKey{}, fmt.Errorf("malformed dedup key %q", key)
	}
	ts, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return dedupKey{}, fmt.Errorf("malformed dedup key %q: %w", key, err)
	}
	amount, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return dedupKey{}, fmt.Errorf("malformed dedup key %q: %w", key, err)
	}
	return dedupKey{deviceID: parts[0], ts: ts, typ: parts[2], status: parts[3], amount: amount}, nil
}
