package sequencer

import (
	"errors"
	"fmt"

	"github.com/banshee-data/clayfab/internal/fabdata"
)

// ErrStageOrder is returned when an element would move back in its
// lifecycle.
var ErrStageOrder = errors.New("element stage moved backwards")

// Stage is where an element is in its pick and place cycle.
type Stage string

const (
	StageIdle       Stage = "idle"
	StagePicked     Stage = "picked"     // on the needles, above the pick station
	StageInTransit  Stage = "in-transit" // travelling to the place egress frame
	StagePlacing    Stage = "placing"    // at the place egress frame
	StageMeasured   Stage = "measured"   // height checked with the distance sensor
	StageCorrected  Stage = "corrected"  // location moved along its normal
	StageCompressed Stage = "compressed" // pressed down to its compressed top
	StageReleased   Stage = "released"   // needles retracted and tool back at egress
	StageReturned   Stage = "returned"   // tool back at the pick egress frame
	StageDone       Stage = "done"
)

var stageRank = map[Stage]int{
	StageIdle:       0,
	StagePicked:     1,
	StageInTransit:  2,
	StagePlacing:    3,
	StageMeasured:   4,
	StageCorrected:  5,
	StageCompressed: 6,
	StageReleased:   7,
	StageReturned:   8,
	StageDone:       9,
}

// StageFunc observes stage transitions.
type StageFunc func(elem *fabdata.FabricationElement, from, to Stage)

// Stage returns the stage of the element currently being handled.
func (s *Sequencer) Stage() Stage { return s.stage }

// resetStage starts a new element cycle.
func (s *Sequencer) resetStage(elem *fabdata.FabricationElement) {
	if s.stage == StageIdle {
		return
	}
	from := s.stage
	s.stage = StageIdle
	if s.OnStage != nil {
		s.OnStage(elem, from, StageIdle)
	}
}

// advance moves to a later stage. Stages may be skipped but never revisited.
func (s *Sequencer) advance(elem *fabdata.FabricationElement, to Stage) error {
	rank, ok := stageRank[to]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrStageOrder, to)
	}
	if rank <= stageRank[s.stage] {
		return fmt.Errorf("%w: %s -> %s", ErrStageOrder, s.stage, to)
	}
	from := s.stage
	s.stage = to
	if s.OnStage != nil {
		s.OnStage(elem, from, to)
	}
	return nil
}
