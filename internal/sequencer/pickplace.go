package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/clayfab/internal/fabdata"
	"github.com/banshee-data/clayfab/internal/monitoring"
	"github.com/banshee-data/clayfab/internal/motion"
	"github.com/banshee-data/clayfab/internal/rrc"
)

// ErrUnacceptableDistance is returned when the measured height differs from
// the planned one by more than the configured tolerance. The run must stop.
var ErrUnacceptableDistance = errors.New("unacceptable distance difference")

func (s *Sequencer) waitNeedles() rrc.Command {
	return rrc.WaitTime(s.cfg.Tools.PickPlace.NeedlesPause)
}

// PickElement picks elem from the pick station. The returned future
// resolves to the elapsed pick time in seconds.
func (s *Sequencer) PickElement(ctx context.Context, elem *fabdata.FabricationElement) (*rrc.Future, error) {
	s.resetStage(elem)
	mv := s.cfg.RobotMovement
	travelZone, preciseZone := rrc.Zone(mv.Zone.Travel), rrc.Zone(mv.Zone.Precise)

	err := s.sendAll(ctx,
		rrc.SetTool(s.cfg.Tools.PickPlace.Name),
		rrc.SetWorkObject(s.cfg.Wobjs.Pick),
		rrc.StartWatch(),
		rrc.MoveToFrame(elem.EgressFrame(), mv.Speed.Travel, travelZone),
		rrc.MoveToFrame(elem.UncompressedTopFrame(), mv.Speed.Travel, preciseZone),
		s.waitNeedles(),
	)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", elem.ID, err)
	}
	if err := s.ExtendNeedles(ctx); err != nil {
		return nil, fmt.Errorf("pick %s: %w", elem.ID, err)
	}
	err = s.sendAll(ctx,
		s.waitNeedles(),
		rrc.MoveToFrame(elem.EgressFrame(), mv.Speed.Precise, travelZone),
		rrc.StopWatch(),
	)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", elem.ID, err)
	}
	fut, err := s.dispatch(ctx, rrc.ReadWatch(), false)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", elem.ID, err)
	}
	if err := s.advance(elem, StagePicked); err != nil {
		return nil, err
	}
	return fut, nil
}

// PlaceElement places elem at its location. With a distance sensor fitted
// the height is checked first and the location corrected. The returned
// future resolves to the elapsed place time in seconds.
func (s *Sequencer) PlaceElement(ctx context.Context, elem *fabdata.FabricationElement) (*rrc.Future, error) {
	fut, err := s.place(ctx, elem)
	if err != nil {
		return nil, fmt.Errorf("place %s: %w", elem.ID, err)
	}
	return fut, nil
}

func (s *Sequencer) place(ctx context.Context, elem *fabdata.FabricationElement) (*rrc.Future, error) {
	monitoring.Debugf("Location frame: %v", elem.Location)
	tools := s.cfg.Tools
	useSensor := tools.DistSensor.Enabled()

	tcp := tools.PickPlace.Name
	if useSensor {
		tcp = tools.DistSensor.Name
	}
	err := s.sendAll(ctx,
		rrc.SetWorkObject(s.cfg.Wobjs.Place),
		rrc.SetTool(tcp),
		rrc.StartWatch(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.advance(elem, StageInTransit); err != nil {
		return nil, err
	}
	toSegment, toPlace, fromPlace, toPick := elem.TravelTrajectories()
	if err := s.travel(ctx, toSegment, toPlace); err != nil {
		return nil, err
	}
	if err := s.advance(elem, StagePlacing); err != nil {
		return nil, err
	}

	if useSensor {
		if err := s.sendAll(ctx, rrc.SetTool(tools.PickPlace.Name)); err != nil {
			return nil, err
		}
		if err := s.measureAndCorrect(ctx, elem); err != nil {
			return nil, err
		}
	}

	if err := s.precise(ctx, elem.TrajectoryEgressToTop()); err != nil {
		return nil, err
	}
	if err := s.sendAll(ctx, s.waitNeedles()); err != nil {
		return nil, err
	}
	if err := s.RetractNeedles(ctx); err != nil {
		return nil, err
	}
	if err := s.sendAll(ctx, s.waitNeedles()); err != nil {
		return nil, err
	}
	if err := s.precise(ctx, elem.TrajectoryTopToCompressedTop()); err != nil {
		return nil, err
	}
	if err := s.advance(elem, StageCompressed); err != nil {
		return nil, err
	}
	if err := s.precise(ctx, elem.TrajectoryCompressedTopToTop(), elem.TrajectoryTopToEgress()); err != nil {
		return nil, err
	}
	if err := s.advance(elem, StageReleased); err != nil {
		return nil, err
	}

	if err := s.travel(ctx, fromPlace, toPick); err != nil {
		return nil, err
	}
	if err := s.advance(elem, StageReturned); err != nil {
		return nil, err
	}
	if err := s.sendAll(ctx, rrc.StopWatch()); err != nil {
		return nil, err
	}
	fut, err := s.dispatch(ctx, rrc.ReadWatch(), false)
	if err != nil {
		return nil, err
	}
	if err := s.advance(elem, StageDone); err != nil {
		return nil, err
	}
	return fut, nil
}

func (s *Sequencer) measureAndCorrect(ctx context.Context, elem *fabdata.FabricationElement) error {
	diff, err := s.MeasureZDiff(ctx, elem)
	if err != nil {
		return err
	}
	m := s.cfg.Measurement
	if math.Abs(diff) > m.MaxZDiff {
		return fmt.Errorf("%w: %.2f mm, tolerance %.2f mm", ErrUnacceptableDistance, diff, m.MaxZDiff)
	}
	if err := s.advance(elem, StageMeasured); err != nil {
		return err
	}
	if math.Abs(diff) < m.MinCorrection {
		monitoring.Debugf("Height difference %.2f mm below %.2f mm, not correcting", diff, m.MinCorrection)
		return nil
	}
	v := elem.CorrectLocation(diff)
	monitoring.Logf("Corrected location of %s by %.2f mm (%v)", elem.ID, diff, v)
	return s.advance(elem, StageCorrected)
}

// MeasureZDiff moves to the egress frame of elem, reads the distance
// sensor and returns expected minus measured distance in millimetres. A
// positive value means the surface is higher than planned.
func (s *Sequencer) MeasureZDiff(ctx context.Context, elem *fabdata.FabricationElement) (float64, error) {
	mv := s.cfg.RobotMovement
	frame := elem.EgressFrame()
	if _, err := s.dispatch(ctx, rrc.MoveToFrame(frame, mv.Speed.Precise, rrc.Zone(mv.Zone.Precise)), true); err != nil {
		return 0, err
	}
	measured, err := s.sensor.Measure(ctx)
	if err != nil {
		return 0, fmt.Errorf("measure height: %w", err)
	}
	expected := elem.EgressDistance
	if e := s.cfg.Measurement.Expected; e != nil {
		expected = *e
	}
	diff := expected - measured
	monitoring.Debugf("Height of %s: expected %.2f mm, measured %.2f mm", elem.ID, expected, measured)
	return diff, nil
}

// MeasureElement visits every measurement frame of elem with the distance
// sensor tool and stores the reading on each measurement.
func (s *Sequencer) MeasureElement(ctx context.Context, elem *fabdata.FabricationElement) error {
	tools := s.cfg.Tools
	if !tools.DistSensor.Enabled() {
		monitoring.Logf("No distance sensor port configured, measurements of %s use dummy values", elem.ID)
	}
	err := s.sendAll(ctx,
		rrc.SetTool(tools.DistSensor.Name),
		rrc.SetWorkObject(s.cfg.Wobjs.Pick),
	)
	if err != nil {
		return fmt.Errorf("measure %s: %w", elem.ID, err)
	}
	mv := s.cfg.RobotMovement
	for i := range elem.Measurements {
		m := &elem.Measurements[i]
		traj := motion.FrameTrajectory{m.Frame}
		if err := s.ExecuteTrajectory(ctx, traj, mv.Speed.Precise, rrc.Zone(mv.Zone.Precise), true); err != nil {
			return fmt.Errorf("measure %s: %w", elem.ID, err)
		}
		d, err := s.sensor.Measure(ctx)
		if err != nil {
			return fmt.Errorf("measure %s point %d: %w", elem.ID, i, err)
		}
		m.Distance = &d
		monitoring.Debugf("Measurement %d of %s: %.2f mm", i, elem.ID, d)
	}
	return nil
}
