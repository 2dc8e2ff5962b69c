package db

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the generator.
type Run struct {
	RunID        string
	StartedUnix  float64
	FinishedUnix *float64
	Period       string
	Algo         string
	WorkingPoint string
	Threshold    float64
	PtMin        float64
	PtMax        float64
	Adaptive     bool
	Status       string
	ConfigJSON   string
}

// DatasetOutcome is the per-dataset status of a run.
type DatasetOutcome struct {
	RunID   string
	Dataset string
	Status  string
	Flags   string
	Error   string
}

// StoredBin is one persisted efficiency bin.
type StoredBin struct {
	Dataset     string
	Flavour     jets.Flavor
	EtaIndex    int
	PtIndex     int
	Bin         effmap.EfficiencyBin
	SumW        float64
	SumW2       float64
	NEff        float64
	SeedSlices  int
	Target      float64
	Relaxations int
	Flags       string
}

// CreateRun inserts a run in the running state. A RunID is assigned when
// empty.
func (db *DB) CreateRun(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.StartedUnix == 0 {
		r.StartedUnix = db.now()
	}
	if r.Status == "" {
		r.Status = "running"
	}
	_, err := db.Exec(`
		INSERT INTO runs (run_id, started_unix, period, algo, working_point, threshold,
			pt_min, pt_max, adaptive, status, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedUnix, r.Period, r.Algo, r.WorkingPoint, r.Threshold,
		r.PtMin, r.PtMax, r.Adaptive, r.Status, r.ConfigJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// SetRunPtMax records the pt_max chosen by the range search.
func (db *DB) SetRunPtMax(runID string, ptMax float64) error {
	_, err := db.Exec(`UPDATE runs SET pt_max = ? WHERE run_id = ?`, ptMax, runID)
	if err != nil {
		return fmt.Errorf("failed to update run pt_max: %w", err)
	}
	return nil
}

// FinishRun stamps the end time and final status.
func (db *DB) FinishRun(runID, status string) error {
	res, err := db.Exec(`UPDATE runs SET finished_unix = ?, status = ? WHERE run_id = ?`,
		db.now(), status, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, started_unix, finished_unix, period, algo, working_point, threshold,
			pt_min, pt_max, adaptive, status, COALESCE(config_json, '')
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT run_id, started_unix, finished_unix, period, algo, working_point, threshold,
			pt_min, pt_max, adaptive, status, COALESCE(config_json, '')
		FROM runs ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullFloat64
	)
	if err := s.Scan(&r.RunID, &r.StartedUnix, &finished, &r.Period, &r.Algo, &r.WorkingPoint,
		&r.Threshold, &r.PtMin, &r.PtMax, &r.Adaptive, &r.Status, &r.ConfigJSON); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedUnix = &finished.Float64
	}
	return &r, nil
}

// RecordDatasetOutcome upserts the status of one dataset within a run.
func (db *DB) RecordDatasetOutcome(o DatasetOutcome) error {
	_, err := db.Exec(`
		INSERT INTO run_datasets (run_id, dataset, status, flags, error)
		VALUES (?, ?, ?, ?, NULLIF(?, ''))
		ON CONFLICT (run_id, dataset) DO UPDATE SET
			status = excluded.status, flags = excluded.flags, error = excluded.error`,
		o.RunID, o.Dataset, o.Status, o.Flags, o.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome of %s: %w", o.Dataset, err)
	}
	return nil
}

// DatasetOutcomes lists a run's dataset statuses by name.
func (db *DB) DatasetOutcomes(runID string) ([]DatasetOutcome, error) {
	rows, err := db.Query(`
		SELECT run_id, dataset, status, flags, COALESCE(error, '')
		FROM run_datasets WHERE run_id = ? ORDER BY dataset`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetOutcome
	for rows.Next() {
		var o DatasetOutcome
		if err := rows.Scan(&o.RunID, &o.Dataset, &o.Status, &o.Flags, &o.Error); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecordBins stores every bin of a built map with its diagnostics in one
// transaction.
func (db *DB) RecordBins(runID string, res *effmap.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO efficiency_bins (run_id, dataset, flavour, eta_index, pt_index,
			eta_min, eta_max, pt_min, pt_max, eff, err_prop, err_clopper_low, err_clopper_high,
			sum_w, sum_w2, n_eff, seed_slices, target, relaxations, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range jets.Flavors {
		for _, row := range res.Diagnostics.Flavors[f] {
			for _, d := range row {
				bin, ok := res.Map.Bin(f, d.EtaIndex, d.PtIndex)
				if !ok {
					return fmt.Errorf("diagnostics reference missing bin %s/%d/%d", f, d.EtaIndex, d.PtIndex)
				}
				if _, err := stmt.Exec(runID, res.Dataset, string(f), d.EtaIndex, d.PtIndex,
					bin.EtaMin, bin.EtaMax, bin.PtMin, bin.PtMax,
					nullFloat(bin.Eff), nullFloat(bin.ErrProp),
					nullFloat(bin.ErrClopper[0]), nullFloat(bin.ErrClopper[1]),
					d.Summary.Counts.SumW, d.Summary.Counts.SumW2, nullFloat(d.Summary.NEff),
					d.SeedSlices, nullFloat(d.Target), d.Relaxations, d.Flags.String(),
				); err != nil {
					return fmt.Errorf("failed to insert bin: %w", err)
				}
			}
		}
	}
	return tx.Commit()
}

// Bins returns the stored bins of one dataset in row-major order per
// flavour.
func (db *DB) Bins(runID, dataset string) ([]StoredBin, error) {
	rows, err := db.Query(`
		SELECT dataset, flavour, eta_index, pt_index, eta_min, eta_max, pt_min, pt_max,
			eff, err_prop, err_clopper_low, err_clopper_high, sum_w, sum_w2, n_eff,
			seed_slices, target, relaxations, flags
		FROM efficiency_bins WHERE run_id = ? AND dataset = ?
		ORDER BY CASE flavour WHEN 'b' THEN 0 WHEN 'c' THEN 1 ELSE 2 END, eta_index, pt_index`,
		runID, dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredBin
	for rows.Next() {
		var (
			b                               StoredBin
			flavour                         string
			eff, prop, lo, hi, neff, target sql.NullFloat64
		)
		if err := rows.Scan(&b.Dataset, &flavour, &b.EtaIndex, &b.PtIndex,
			&b.Bin.EtaMin, &b.Bin.EtaMax, &b.Bin.PtMin, &b.Bin.PtMax,
			&eff, &prop, &lo, &hi, &b.SumW, &b.SumW2, &neff,
			&b.SeedSlices, &target, &b.Relaxations, &b.Flags); err != nil {
			return nil, err
		}
		b.Flavour = jets.Flavor(flavour)
		b.Bin.Eff = fromNull(eff)
		b.Bin.ErrProp = fromNull(prop)
		b.Bin.ErrClopper = [2]float64{fromNull(lo), fromNull(hi)}
		b.NEff = fromNull(neff)
		b.Target = fromNull(target)
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
