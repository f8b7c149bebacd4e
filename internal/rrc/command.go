package rrc

import (
	"fmt"

	"github.com/banshee-data/clayfab/internal/geom"
)

// FeedbackLevel controls whether the controller answers a command.
type FeedbackLevel string

const (
	// FeedbackNone commands are fire and forget.
	FeedbackNone FeedbackLevel = "none"
	// FeedbackDone commands are answered once the controller executed them.
	FeedbackDone FeedbackLevel = "done"
	// FeedbackData commands are answered with values.
	FeedbackData FeedbackLevel = "data"
)

// Zone is a move zone in millimetres. ZoneFine stops exactly on target.
type Zone float64

const ZoneFine Zone = -1

// linearMotion asks the controller for linear interpolation.
const linearMotion = "L"

// Command is one instruction for the controller.
type Command struct {
	Instruction  string
	Feedback     FeedbackLevel
	StringValues []string
	FloatValues  []float64
}

func (c Command) String() string {
	return fmt.Sprintf("%s%v%v", c.Instruction, c.StringValues, c.FloatValues)
}

// WithFeedback returns a copy of c answered at level.
func (c Command) WithFeedback(level FeedbackLevel) Command {
	c.Feedback = level
	return c
}

func cmd(instruction string, strs []string, floats ...float64) Command {
	return Command{
		Instruction:  instruction,
		Feedback:     FeedbackNone,
		StringValues: strs,
		FloatValues:  floats,
	}
}

// MoveToFrame moves the active tool linearly to frame.
func MoveToFrame(frame geom.Frame, speed float64, zone Zone) Command {
	q := frame.Quaternion()
	p := frame.Point
	return cmd(InstructionMoveToFrame, []string{linearMotion},
		p.X, p.Y, p.Z, q.Real, q.Imag, q.Jmag, q.Kmag, speed, float64(zone))
}

// MoveToJoints moves to absolute joint angles in degrees.
func MoveToJoints(joints geom.Joints, speed float64, zone Zone) Command {
	floats := make([]float64, 0, len(joints)+2)
	floats = append(floats, joints...)
	floats = append(floats, speed, float64(zone))
	return cmd(InstructionMoveToJoints, nil, floats...)
}

func SetTool(name string) Command {
	return cmd(InstructionSetTool, []string{name})
}

func SetWorkObject(name string) Command {
	return cmd(InstructionSetWorkObject, []string{name})
}

// SetAcceleration sets acceleration and ramp as percentages.
func SetAcceleration(accel, ramp float64) Command {
	return cmd(InstructionSetAcceleration, nil, accel, ramp)
}

// SetMaxSpeed sets the override percentage and the max TCP speed in mm/s.
func SetMaxSpeed(override, maxTCP float64) Command {
	return cmd(InstructionSetMaxSpeed, nil, override, maxTCP)
}

func SetDigital(signal string, value int) Command {
	return cmd(InstructionSetDigital, []string{signal}, float64(value))
}

func StartWatch() Command { return cmd(InstructionStartWatch, nil) }

func StopWatch() Command { return cmd(InstructionStopWatch, nil) }

// ReadWatch is answered with the elapsed seconds as its first float value.
func ReadWatch() Command {
	return cmd(InstructionReadWatch, nil).WithFeedback(FeedbackData)
}

func WaitTime(seconds float64) Command {
	return cmd(InstructionWaitTime, nil, seconds)
}

func Noop() Command { return cmd(InstructionNoop, nil) }

func PrintText(text string) Command {
	return cmd(InstructionPrintText, []string{text})
}
