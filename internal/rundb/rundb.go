// Package rundb archives fabrication runs and their placements in sqlite.
package rundb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/clayfab/internal/fabdata"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
	StatusImported = "imported"
)

var ErrRunNotFound = errors.New("run not found")

// DB is the run archive.
type DB struct {
	*sql.DB
	path string
}

// Run is one execution of a run record.
type Run struct {
	ID         string
	RunFile    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Error      string
	Elements   int
}

// Placement is one element placed during a run.
type Placement struct {
	RunID      string
	Index      int
	ElementID  string
	CycleTime  *float64
	PlacedAt   *float64
	Height     float64
	Radius     *float64
	Density    *float64
	Correction []float64 // x, y, z or nil
}

// Open opens or creates the archive at path and migrates it to the latest
// schema.
func Open(path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	sqldb, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}
	db := &DB{DB: sqldb, path: path}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

// StartRun inserts a new run in the running state.
func (db *DB) StartRun(ctx context.Context, run Run) error {
	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, run_file, started_at, status, elements) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.RunFile, unixSeconds(run.StartedAt), status, run.Elements)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun sets the final status of a run. A nil runErr marks it complete.
func (db *DB) FinishRun(ctx context.Context, id string, at time.Time, runErr error) error {
	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusError, runErr.Error()
	}
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE run_id = ?`,
		unixSeconds(at), status, msg, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// RecordPlacement stores p, replacing an earlier placement of the same
// element in the same run.
func (db *DB) RecordPlacement(ctx context.Context, p Placement) error {
	return insertPlacement(ctx, db.DB, "INSERT OR REPLACE", p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPlacement(ctx context.Context, ex execer, verb string, p Placement) error {
	var cx, cy, cz *float64
	if len(p.Correction) == 3 {
		cx, cy, cz = &p.Correction[0], &p.Correction[1], &p.Correction[2]
	}
	_, err := ex.ExecContext(ctx, verb+` INTO placements (
			run_id, element_index, element_id, cycle_time, placed_at,
			height, radius, density, correction_x, correction_y, correction_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Index, p.ElementID, p.CycleTime, p.PlacedAt,
		p.Height, p.Radius, p.Density, cx, cy, cz)
	if err != nil {
		return fmt.Errorf("failed to record placement %s/%d: %w", p.RunID, p.Index, err)
	}
	return nil
}

// PlacementFromElement builds the archived form of elem.
func PlacementFromElement(runID string, index int, elem *fabdata.FabricationElement) Placement {
	p := Placement{
		RunID:     runID,
		Index:     index,
		ElementID: elem.ID.String(),
		CycleTime: elem.CycleTime,
		PlacedAt:  elem.Placed,
		Height:    elem.Height,
		Radius:    elem.Radius,
		Density:   elem.Density,
	}
	if c, ok := correctionOf(elem); ok {
		p.Correction = c
	}
	return p
}

// correctionOf reads the location correction, which is []float64 when set
// in process and []any after a JSON round trip.
func correctionOf(elem *fabdata.FabricationElement) ([]float64, bool) {
	switch v := elem.Attrs[fabdata.AttrLocationCorrection].(type) {
	case []float64:
		if len(v) == 3 {
			return v, true
		}
	case []any:
		if len(v) != 3 {
			return nil, false
		}
		out := make([]float64, 3)
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

// Import archives every placed element of elems as a finished run.
func (db *DB) Import(ctx context.Context, run Run, elems []*fabdata.FabricationElement) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	finished := unixSeconds(run.StartedAt)
	if run.FinishedAt != nil {
		finished = unixSeconds(*run.FinishedAt)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, run_file, started_at, finished_at, status, elements) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.RunFile, unixSeconds(run.StartedAt), finished, StatusImported, len(elems))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	n := 0
	for i, elem := range elems {
		if elem.Placed == nil {
			continue
		}
		if err := insertPlacement(ctx, tx, "INSERT", PlacementFromElement(run.ID, i, elem)); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return n, nil
}

// Runs returns all runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, run_file, started_at, finished_at, status, error, elements
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  float64
			finished sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.RunFile, &started, &finished, &r.Status, &r.Error, &r.Elements); err != nil {
			return nil, err
		}
		r.StartedAt = fromUnixSeconds(started)
		if finished.Valid {
			t := fromUnixSeconds(finished.Float64)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (db *DB) Run(ctx context.Context, id string) (Run, error) {
	runs, err := db.Runs(ctx)
	if err != nil {
		return Run{}, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// Placements returns the placements of a run in element order.
func (db *DB) Placements(ctx context.Context, runID string) ([]Placement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, element_index, element_id, cycle_time, placed_at,
		       height, radius, density, correction_x, correction_y, correction_z
		FROM placements WHERE run_id = ? ORDER BY element_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Placement
	for rows.Next() {
		var (
			p                           Placement
			cycle, placed, radius, dens sql.NullFloat64
			cx, cy, cz                  sql.NullFloat64
		)
		if err := rows.Scan(&p.RunID, &p.Index, &p.ElementID, &cycle, &placed,
			&p.Height, &radius, &dens, &cx, &cy, &cz); err != nil {
			return nil, err
		}
		p.CycleTime = nullable(cycle)
		p.PlacedAt = nullable(placed)
		p.Radius = nullable(radius)
		p.Density = nullable(dens)
		if cx.Valid && cy.Valid && cz.Valid {
			p.Correction = []float64{cx.Float64, cy.Float64, cz.Float64}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// CycleTimes returns the recorded cycle times of a run in element order.
func (db *DB) CycleTimes(ctx context.Context, runID string) ([]float64, error) {
	ps, err := db.Placements(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, p := range ps {
		if p.CycleTime != nil {
			out = append(out, *p.CycleTime)
		}
	}
	return out, nil
}
