package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/evtelemetry/core/logger"
	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
)

// SQLiteConfig locates the run log database.
type SQLiteConfig struct {
	Path string `json:"path"`
	// Every stores one sample per Every ticks.
	Every int `json:"every"`
}

// RunSummary is one row of the runs table. Totals are those of the last
// stored sample.
type RunSummary struct {
	RunID      string
	Profile    string
	State      string
	StartedAt  time.Time
	UpdatedAt  time.Time
	Packets    uint64
	OdometerKm float64
	EnergyKWh  float64
}

// Sample is one down-sampled vehicle snapshot.
type Sample struct {
	Tick            uint64
	At              time.Time
	ThrottlePct     float64
	MotorRPM        float64
	PackVoltageV    float64
	ControllerTempC float64
	OdometerKm      float64
	EnergyKWh       float64
}

// SQLiteRecorder keeps a local log of runs and their down-sampled state in
// a SQLite database.
type SQLiteRecorder struct {
	db    *sql.DB
	every uint64
	log   logger.Logger
}

// NewSQLiteRecorder opens or creates the database and ensures schema.
func NewSQLiteRecorder(cfg SQLiteConfig, log logger.Logger) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("run log directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	runs := `CREATE TABLE IF NOT EXISTS runs (
        run_id TEXT PRIMARY KEY,
        profile TEXT NOT NULL DEFAULT '',
        state TEXT NOT NULL,
        started_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        packets INTEGER NOT NULL DEFAULT 0,
        odometer_km REAL NOT NULL DEFAULT 0,
        energy_kwh REAL NOT NULL DEFAULT 0
    );`
	samples := `CREATE TABLE IF NOT EXISTS run_samples (
        run_id TEXT,
        tick INTEGER,
        at INTEGER,
        throttle_pct REAL,
        motor_rpm REAL,
        pack_voltage_v REAL,
        controller_temp_c REAL,
        odometer_km REAL,
        energy_kwh REAL,
        PRIMARY KEY(run_id, tick)
    );`
	for _, schema := range []string{runs, samples} {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	every := cfg.Every
	if every <= 0 {
		every = DefaultInfluxEvery
	}
	r := &SQLiteRecorder{db: db, every: uint64(every), log: logger.OrNop(log)}
	r.log.Infof("logging runs to %s", cfg.Path)
	return r, nil
}

// RecordPacket is a no-op: the run log keeps vehicle state only.
func (s *SQLiteRecorder) RecordPacket(coremetrics.PacketEvent) error { return nil }

// RecordState stores a sample and refreshes the run totals every s.every
// ticks.
func (s *SQLiteRecorder) RecordState(ev coremetrics.StateEvent) error {
	if ev.Tick%s.every != 0 {
		return nil
	}
	st := ev.State
	at := ev.Time.UnixMilli()
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO run_samples
        (run_id, tick, at, throttle_pct, motor_rpm, pack_voltage_v, controller_temp_c, odometer_km, energy_kwh)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, int64(ev.Tick), at, st.ThrottlePct, st.MotorRPM, st.PackVoltageV,
		st.ControllerTempC, st.OdometerKm, st.EnergyKWh); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO runs (run_id, profile, state, started_at, updated_at, packets, odometer_km, energy_kwh)
        VALUES (?, ?, 'running', ?, ?, ?, ?, ?)
        ON CONFLICT(run_id) DO UPDATE SET
            profile = excluded.profile,
            updated_at = excluded.updated_at,
            packets = excluded.packets,
            odometer_km = excluded.odometer_km,
            energy_kwh = excluded.energy_kwh`,
		ev.RunID, ev.Profile, at, at, int64(ev.PacketsSent), st.OdometerKm, st.EnergyKWh)
	return err
}

// RecordRunState stores the lifecycle state of the run.
func (s *SQLiteRecorder) RecordRunState(ev coremetrics.RunStateEvent) error {
	at := ev.Time.UnixMilli()
	_, err := s.db.Exec(`INSERT INTO runs (run_id, state, started_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(run_id) DO UPDATE SET
            state = excluded.state,
            updated_at = excluded.updated_at`,
		ev.RunID, ev.To, at, at)
	return err
}

// Runs returns every logged run, oldest first.
func (s *SQLiteRecorder) Runs() ([]RunSummary, error) {
	rows, err := s.db.Query(`SELECT run_id, profile, state, started_at, updated_at, packets, odometer_km, energy_kwh
        FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []RunSummary
	for rows.Next() {
		var (
			r                RunSummary
			started, updated int64
			packets          int64
		)
		if err := rows.Scan(&r.RunID, &r.Profile, &r.State, &started, &updated, &packets, &r.OdometerKm, &r.EnergyKWh); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		r.Packets = uint64(packets)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Samples returns the stored snapshots of a run ordered by tick.
func (s *SQLiteRecorder) Samples(runID string) ([]Sample, error) {
	rows, err := s.db.Query(`SELECT tick, at, throttle_pct, motor_rpm, pack_voltage_v, controller_temp_c, odometer_km, energy_kwh
        FROM run_samples WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Sample
	for rows.Next() {
		var (
			sm       Sample
			tick, at int64
		)
		if err := rows.Scan(&tick, &at, &sm.ThrottlePct, &sm.MotorRPM, &sm.PackVoltageV,
			&sm.ControllerTempC, &sm.OdometerKm, &sm.EnergyKWh); err != nil {
			return nil, err
		}
		sm.Tick = uint64(tick)
		sm.At = time.UnixMilli(at).UTC()
		res = append(res, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteRecorder) Close() error { return s.db.Close() }
