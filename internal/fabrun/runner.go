// Package fabrun drives a fabrication run: pick, place and persist every
// unplaced element of a run record.
package fabrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/clayfab/internal/fabdata"
	"github.com/banshee-data/clayfab/internal/fsutil"
	"github.com/banshee-data/clayfab/internal/monitoring"
	"github.com/banshee-data/clayfab/internal/rundb"
	"github.com/banshee-data/clayfab/internal/sequencer"
	"github.com/banshee-data/clayfab/internal/timeutil"
)

// Status is the state of a run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

var ErrAlreadyRunning = errors.New("a run is already in progress")

// Archive stores runs and placements. *rundb.DB implements it.
type Archive interface {
	StartRun(ctx context.Context, run rundb.Run) error
	RecordPlacement(ctx context.Context, p rundb.Placement) error
	FinishRun(ctx context.Context, id string, at time.Time, runErr error) error
}

// Config names the files of a run.
type Config struct {
	RunPath         string
	PickStationPath string
	// StartIndex skips elements before it.
	StartIndex int
	// WatchTimeout bounds the wait for pick and place times. Zero waits
	// until the context ends.
	WatchTimeout time.Duration
}

// Options carries the optional collaborators of a Runner.
type Options struct {
	FS      fsutil.FileSystem
	Clock   timeutil.Clock
	Archive Archive
	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

// State is a snapshot of the current run.
type State struct {
	RunID       string          `json:"run_id,omitempty"`
	Status      Status          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Total       int             `json:"total"`
	Placed      int             `json:"placed"`
	Skipped     int             `json:"skipped"`
	Current     string          `json:"current,omitempty"`
	Stage       sequencer.Stage `json:"stage,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Runner executes run records on the robot.
type Runner struct {
	cfg      Config
	seq      *sequencer.Sequencer
	records  *fabdata.Records
	fs       fsutil.FileSystem
	clock    timeutil.Clock
	archive  Archive
	newRunID func() string

	mu    sync.RWMutex
	state State
}

// NewRunner returns a runner issuing commands through seq.
func NewRunner(seq *sequencer.Sequencer, cfg Config, opts Options) *Runner {
	r := &Runner{
		cfg:      cfg,
		seq:      seq,
		fs:       opts.FS,
		clock:    opts.Clock,
		archive:  opts.Archive,
		newRunID: opts.NewRunID,
		state:    State{Status: StatusIdle},
	}
	if r.fs == nil {
		r.fs = fsutil.OSFileSystem{}
	}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	if r.newRunID == nil {
		r.newRunID = uuid.NewString
	}
	r.records = fabdata.NewRecords(r.fs)
	r.records.SetNow(r.clock.Now)

	observer := seq.OnStage
	seq.OnStage = func(elem *fabdata.FabricationElement, from, to sequencer.Stage) {
		r.update(func(s *State) { s.Stage = to })
		if observer != nil {
			observer(elem, from, to)
		}
	}
	return r
}

// State returns a copy of the current run state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) update(f func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.state)
}

// Run places every unplaced element from the start index on. The run
// record is rewritten after each placement, so a failed run keeps what was
// placed before the failure.
func (r *Runner) Run(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	started := r.clock.Now()
	r.state = State{RunID: r.newRunID(), Status: StatusRunning, StartedAt: &started}
	runID := r.state.RunID
	r.mu.Unlock()

	archived := false
	defer func() {
		done := r.clock.Now()
		r.update(func(s *State) {
			s.CompletedAt = &done
			s.Current = ""
			if err != nil {
				s.Status = StatusError
				s.Error = err.Error()
			} else {
				s.Status = StatusComplete
			}
		})
		if archived {
			// the run context may already be cancelled
			if aerr := r.archive.FinishRun(context.WithoutCancel(ctx), runID, done, err); aerr != nil {
				monitoring.Logf("fabrun: failed to archive run result: %v", aerr)
			}
		}
	}()

	rec, err := r.records.Load(r.cfg.RunPath)
	if err != nil {
		return err
	}
	station, err := fabdata.LoadPickStation(r.fs, r.cfg.PickStationPath)
	if err != nil {
		return err
	}
	if r.cfg.StartIndex < 0 || r.cfg.StartIndex > len(rec.Elements) {
		return fmt.Errorf("start index %d out of range for %d elements", r.cfg.StartIndex, len(rec.Elements))
	}
	r.update(func(s *State) { s.Total = len(rec.Elements) - r.cfg.StartIndex })

	if r.archive != nil {
		run := rundb.Run{ID: runID, RunFile: r.cfg.RunPath, StartedAt: started, Elements: len(rec.Elements)}
		if err := r.archive.StartRun(ctx, run); err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
		archived = true
	}
	monitoring.Logf("Run %s: %d elements in %s, starting at %d", runID, len(rec.Elements), r.cfg.RunPath, r.cfg.StartIndex)

	if err := r.seq.CheckReconnect(ctx); err != nil {
		return err
	}
	if err := r.seq.PreProcedure(ctx); err != nil {
		return fmt.Errorf("pre procedure: %w", err)
	}

	for i := r.cfg.StartIndex; i < len(rec.Elements); i++ {
		elem := rec.Elements[i]
		if elem.Placed != nil {
			monitoring.Debugf("Element %d (%s) already placed, skipping", i, elem.ID)
			r.update(func(s *State) { s.Skipped++ })
			continue
		}
		if err := r.placeOne(ctx, runID, station, rec, i); err != nil {
			return fmt.Errorf("element %d (%s): %w", i, elem.ID, err)
		}
	}

	if err := r.seq.PostProcedure(ctx); err != nil {
		return fmt.Errorf("post procedure: %w", err)
	}
	monitoring.Logf("Run %s finished", runID)
	return nil
}

func (r *Runner) placeOne(ctx context.Context, runID string, station *fabdata.PickStation, rec *fabdata.RunRecord, i int) error {
	elem := rec.Elements[i]
	r.update(func(s *State) { s.Current = elem.ID.String() })

	if err := r.seq.CheckReconnect(ctx); err != nil {
		return err
	}
	pickElem, err := station.NextPickElement()
	if err != nil {
		return err
	}
	pickFut, err := r.seq.PickElement(ctx, pickElem)
	if err != nil {
		return err
	}
	placeFut, err := r.seq.PlaceElement(ctx, elem)
	if err != nil {
		return err
	}
	pickSecs, err := pickFut.Seconds(ctx, r.cfg.WatchTimeout)
	if err != nil {
		return fmt.Errorf("pick time: %w", err)
	}
	placeSecs, err := placeFut.Seconds(ctx, r.cfg.WatchTimeout)
	if err != nil {
		return fmt.Errorf("place time: %w", err)
	}

	cycle := pickSecs + placeSecs
	placed := float64(r.clock.Now().UnixNano()) / float64(time.Second)
	elem.CycleTime = &cycle
	elem.Placed = &placed
	if err := r.records.Save(r.cfg.RunPath, rec); err != nil {
		return err
	}
	monitoring.Logf("Placed element %d (%s), cycle time %.1f s", i, elem.ID, cycle)
	r.update(func(s *State) { s.Placed++ })

	if r.archive != nil {
		if err := r.archive.RecordPlacement(ctx, rundb.PlacementFromElement(runID, i, elem)); err != nil {
			// archive failures do not stop the run
			monitoring.Logf("fabrun: failed to archive placement %d: %v", i, err)
		}
	}
	return nil
}
