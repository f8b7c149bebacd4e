// Package sequencer turns fabrication elements into robot command
// sequences and keeps the controller connection alive.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/clayfab/internal/config"
	"github.com/banshee-data/clayfab/internal/geom"
	"github.com/banshee-data/clayfab/internal/monitoring"
	"github.com/banshee-data/clayfab/internal/motion"
	"github.com/banshee-data/clayfab/internal/rrc"
	"github.com/banshee-data/clayfab/internal/sensor"
	"github.com/banshee-data/clayfab/internal/timeutil"
)

// ErrConnectionTimeout is returned when the controller stays silent after
// every restart attempt.
var ErrConnectionTimeout = fmt.Errorf("failed to connect to robot: %w", rrc.ErrTimeout)

// Restarter restarts the container running the robot driver.
type Restarter interface {
	RestartContainer(ctx context.Context) error
}

// Options carries the optional collaborators of a Sequencer.
type Options struct {
	// Restarter recovers the driver when pings time out. Nil only logs.
	Restarter Restarter
	// Sensor reads heights during placing. Nil uses a dummy reading.
	Sensor sensor.DistanceSensor
	// Clock is used for the settle time after a restart.
	Clock timeutil.Clock
	// OnStage observes element stage transitions.
	OnStage StageFunc
}

// Sequencer issues pick and place command sequences. It is not safe for
// concurrent use.
type Sequencer struct {
	client    rrc.Sender
	cfg       config.RobotConfig
	restarter Restarter
	sensor    sensor.DistanceSensor
	clock     timeutil.Clock

	// lastJoints is the last joint target sent, nil after a cartesian move.
	lastJoints geom.Joints
	stage      Stage

	OnStage StageFunc
}

// New returns a sequencer sending to client.
func New(client rrc.Sender, cfg config.RobotConfig, opts Options) *Sequencer {
	s := &Sequencer{
		client:    client,
		cfg:       cfg,
		restarter: opts.Restarter,
		sensor:    opts.Sensor,
		clock:     opts.Clock,
		stage:     StageIdle,
		OnStage:   opts.OnStage,
	}
	if s.sensor == nil {
		s.sensor = sensor.Dummy{}
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	return s
}

func (s *Sequencer) commandTimeout() time.Duration {
	if t := s.cfg.Link.CommandTimeout(); t > 0 {
		return t
	}
	return rrc.DefaultTimeout
}

// dispatch sends one command and tracks the last joint target.
func (s *Sequencer) dispatch(ctx context.Context, cmd rrc.Command, wait bool) (*rrc.Future, error) {
	var (
		fut *rrc.Future
		err error
	)
	if wait {
		_, err = s.client.SendAndWait(ctx, cmd, s.commandTimeout())
	} else {
		fut, err = s.client.Send(cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Instruction, err)
	}
	switch cmd.Instruction {
	case rrc.InstructionMoveToJoints:
		// joints are followed by speed and zone
		s.lastJoints = slices.Clone(geom.Joints(cmd.FloatValues[:len(cmd.FloatValues)-2]))
	case rrc.InstructionMoveToFrame:
		s.lastJoints = nil
	}
	return fut, nil
}

// sendAll sends fire and forget commands in order, stopping at the first
// error.
func (s *Sequencer) sendAll(ctx context.Context, cmds ...rrc.Command) error {
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.dispatch(ctx, cmd, false); err != nil {
			return err
		}
	}
	return nil
}

// Ping sends a Noop and waits for the controller to answer.
func (s *Sequencer) Ping(ctx context.Context, timeout time.Duration) error {
	_, err := s.client.SendAndWait(ctx, rrc.Noop().WithFeedback(rrc.FeedbackDone), timeout)
	return err
}

// CheckReconnect pings the controller and restarts the driver container
// after every timed out ping, up to the configured number of tries.
func (s *Sequencer) CheckReconnect(ctx context.Context) error {
	d := s.cfg.Docker
	for attempt := 1; attempt <= d.Tries; attempt++ {
		monitoring.Debugf("Pinging robot (attempt %d/%d)", attempt, d.Tries)
		err := s.Ping(ctx, d.PingTimeout())
		if err == nil {
			monitoring.Debugf("Ping answered")
			return nil
		}
		if !errors.Is(err, rrc.ErrTimeout) {
			return fmt.Errorf("ping: %w", err)
		}

		monitoring.Logf("No response from controller, restarting %s", d.Container)
		if s.restarter != nil {
			if err := s.restarter.RestartContainer(ctx); err != nil {
				return fmt.Errorf("restart driver: %w", err)
			}
		} else {
			monitoring.Logf("No driver restarter configured, retrying ping")
		}
		if err := s.clock.Sleep(ctx, d.SettleTime()); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d tries", ErrConnectionTimeout, d.Tries)
}

// RetractNeedles pulls the gripper needles in.
func (s *Sequencer) RetractNeedles(ctx context.Context) error {
	tool := s.cfg.Tools.PickPlace
	monitoring.Debugf("IO %s set to %d", tool.IONeedles, tool.RetractSignal)
	return s.sendAll(ctx, rrc.SetDigital(tool.IONeedles, tool.RetractSignal))
}

// ExtendNeedles pushes the gripper needles out.
func (s *Sequencer) ExtendNeedles(ctx context.Context) error {
	tool := s.cfg.Tools.PickPlace
	monitoring.Debugf("IO %s set to %d", tool.IONeedles, tool.ExtendSignal)
	return s.sendAll(ctx, rrc.SetDigital(tool.IONeedles, tool.ExtendSignal))
}

// PreProcedure sets tool, work object, speed and acceleration, and moves
// to the start joint position.
func (s *Sequencer) PreProcedure(ctx context.Context) error {
	if err := s.RetractNeedles(ctx); err != nil {
		return err
	}
	mv := s.cfg.RobotMovement
	g := mv.GlobalSpeedAccel
	return s.sendAll(ctx,
		rrc.SetTool(s.cfg.Tools.PickPlace.Name),
		rrc.SetWorkObject(s.cfg.Wobjs.Place),
		rrc.SetAcceleration(g.Accel, g.AccelRamp),
		rrc.SetMaxSpeed(g.SpeedOverride, g.SpeedMaxTCP),
		rrc.MoveToJoints(mv.SetJointPos.Start, mv.Speed.Travel, rrc.Zone(mv.Zone.Travel)),
	)
}

// PostProcedure moves to the end joint position and waits for the
// controller to finish.
func (s *Sequencer) PostProcedure(ctx context.Context) error {
	if err := s.RetractNeedles(ctx); err != nil {
		return err
	}
	mv := s.cfg.RobotMovement
	if err := s.sendAll(ctx, rrc.MoveToJoints(mv.SetJointPos.End, mv.Speed.Travel, rrc.Zone(mv.Zone.Travel))); err != nil {
		return err
	}
	_, err := s.dispatch(ctx, rrc.PrintText("Finished"), true)
	return err
}

// ExecuteTrajectory sends one move per target. With blocking set the last
// move waits for the controller. Joint targets equal to the previous joint
// target are skipped.
func (s *Sequencer) ExecuteTrajectory(ctx context.Context, traj motion.Trajectory, speed float64, zone rrc.Zone, blocking bool) error {
	switch t := traj.(type) {
	case motion.JointTrajectory:
		z := s.cfg.RobotMovement.Zone
		if zone == rrc.Zone(z.Precise) {
			zone = rrc.Zone(z.AbsJPrecise)
		}
		for i, joints := range t {
			if s.lastJoints != nil && joints.Equal(s.lastJoints) {
				monitoring.Debugf("Skipping repeated joint target %v", joints)
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			last := blocking && i == len(t)-1
			if _, err := s.dispatch(ctx, rrc.MoveToJoints(joints, speed, zone), last); err != nil {
				return err
			}
		}
	case motion.FrameTrajectory:
		for i, frame := range t {
			if err := ctx.Err(); err != nil {
				return err
			}
			last := blocking && i == len(t)-1
			if _, err := s.dispatch(ctx, rrc.MoveToFrame(frame, speed, zone), last); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", motion.ErrUnsupportedTrajectory, traj)
	}
	return nil
}

func (s *Sequencer) travel(ctx context.Context, trajs ...motion.Trajectory) error {
	mv := s.cfg.RobotMovement
	for _, t := range trajs {
		if err := s.ExecuteTrajectory(ctx, t, mv.Speed.Travel, rrc.Zone(mv.Zone.Travel), false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) precise(ctx context.Context, trajs ...motion.Trajectory) error {
	mv := s.cfg.RobotMovement
	for _, t := range trajs {
		if err := s.ExecuteTrajectory(ctx, t, mv.Speed.Precise, rrc.Zone(mv.Zone.Precise), false); err != nil {
			return err
		}
	}
	return nil
}
