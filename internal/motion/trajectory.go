// Package motion holds pre-planned robot trajectories.
package motion

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/clayfab/internal/geom"
)

// ErrUnsupportedTrajectory is returned for trajectory kinds the robot
// cannot execute. It is not retryable.
var ErrUnsupportedTrajectory = errors.New("unsupported trajectory")

// Trajectory is an ordered list of targets. It is implemented only by
// JointTrajectory and FrameTrajectory.
type Trajectory interface {
	Len() int
	kind() string
}

// JointTrajectory is a list of joint-space targets.
type JointTrajectory []geom.Joints

func (t JointTrajectory) Len() int   { return len(t) }
func (JointTrajectory) kind() string { return kindJoints }

// FrameTrajectory is a list of cartesian targets.
type FrameTrajectory []geom.Frame

func (t FrameTrajectory) Len() int   { return len(t) }
func (FrameTrajectory) kind() string { return kindFrames }

const (
	kindJoints = "joints"
	kindFrames = "frames"
)

// Data wraps a Trajectory for its tagged JSON form. A nil Trajectory
// encodes as null and empty trajectories drop their point list.
type Data struct {
	Trajectory Trajectory
}

type taggedData struct {
	Type   string        `json:"type"`
	Points []geom.Joints `json:"points,omitempty"`
	Frames []geom.Frame  `json:"frames,omitempty"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	switch t := d.Trajectory.(type) {
	case nil:
		return []byte("null"), nil
	case JointTrajectory:
		return json.Marshal(taggedData{Type: t.kind(), Points: t})
	case FrameTrajectory:
		return json.Marshal(taggedData{Type: t.kind(), Frames: t})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTrajectory, t)
	}
}

func (d *Data) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Trajectory = nil
		return nil
	}
	var raw taggedData
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode trajectory: %w", err)
	}
	switch raw.Type {
	case kindJoints:
		d.Trajectory = JointTrajectory(raw.Points)
	case kindFrames:
		d.Trajectory = FrameTrajectory(raw.Frames)
	case "":
		return fmt.Errorf("%w: missing type tag", ErrUnsupportedTrajectory)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedTrajectory, raw.Type)
	}
	return nil
}

