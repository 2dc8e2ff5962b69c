package db

import (
	"fmt"

	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/unctarget"
)

// TargetStore keeps uncertainty targets for one calibration in the
// uncertainty_targets table. It implements unctarget.Store.
type TargetStore struct {
	db           *DB
	period       string
	algo         string
	workingPoint string
}

// NewTargetStore scopes the table to (period, algo, working point).
func (db *DB) NewTargetStore(period, algo, workingPoint string) *TargetStore {
	return &TargetStore{db: db, period: period, algo: algo, workingPoint: workingPoint}
}

// Load reads all targets of the store's calibration. The table counts as
// pre-existing when at least one row was found.
func (s *TargetStore) Load(defaults unctarget.Targets) (*unctarget.Table, error) {
	rows, err := s.db.Query(`
		SELECT dataset, flavour, target FROM uncertainty_targets
		WHERE period = ? AND algo = ? AND working_point = ?`,
		s.period, s.algo, s.workingPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to query uncertainty targets: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]unctarget.Targets)
	for rows.Next() {
		var (
			dataset, flavour string
			target           float64
		)
		if err := rows.Scan(&dataset, &flavour, &target); err != nil {
			return nil, err
		}
		f, err := jets.ParseFlavor(flavour)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", dataset, err)
		}
		if entries[dataset] == nil {
			entries[dataset] = make(unctarget.Targets)
		}
		entries[dataset][f] = target
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t := unctarget.NewTable(defaults)
	for name, targets := range entries {
		// Flavours missing from storage fall back to the defaults.
		t.Update(name, targets)
	}
	t.Preexisting = len(entries) > 0
	return t, nil
}

// Save upserts every target of the table.
func (s *TargetStore) Save(t *unctarget.Table) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO uncertainty_targets (period, algo, working_point, dataset, flavour, target, updated_unix)
		VALUES (?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT (period, algo, working_point, dataset, flavour) DO UPDATE SET
			target = excluded.target, updated_unix = excluded.updated_unix`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	snap := t.Snapshot()
	for _, name := range t.Datasets() {
		for _, f := range jets.Flavors {
			v, ok := snap[name][f]
			if !ok {
				continue
			}
			if _, err := stmt.Exec(s.period, s.algo, s.workingPoint, name, string(f), v); err != nil {
				return fmt.Errorf("failed to save target %s/%s: %w", name, f, err)
			}
		}
	}
	return tx.Commit()
}
