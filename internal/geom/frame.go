// Package geom holds the small amount of spatial math the fabrication code
// needs: frames (point plus orthonormal axes) and joint targets.
package geom

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Epsilon is the tolerance used when comparing frames.
const Epsilon = 1e-9

var ErrDegenerateFrame = errors.New("frame axes are zero or parallel")

// Frame is a right handed coordinate frame in millimetres. XAxis and YAxis
// are unit vectors and orthogonal when built with NewFrame.
type Frame struct {
	Point r3.Vec
	XAxis r3.Vec
	YAxis r3.Vec
}

// NewFrame builds a frame and orthonormalises the axes. The x-axis keeps its
// direction; the y-axis is projected into the plane spanned by both inputs.
func NewFrame(point, xaxis, yaxis r3.Vec) (Frame, error) {
	if r3.Norm(xaxis) < Epsilon || r3.Norm(yaxis) < Epsilon {
		return Frame{}, ErrDegenerateFrame
	}
	x := r3.Unit(xaxis)
	z := r3.Cross(x, yaxis)
	if r3.Norm(z) < Epsilon {
		return Frame{}, ErrDegenerateFrame
	}
	z = r3.Unit(z)
	return Frame{Point: point, XAxis: x, YAxis: r3.Cross(z, x)}, nil
}

// WorldXY is the frame at the origin aligned with the world axes.
func WorldXY() Frame {
	return Frame{
		XAxis: r3.Vec{X: 1},
		YAxis: r3.Vec{Y: 1},
	}
}

// Normal returns the frame's z-axis.
func (f Frame) Normal() r3.Vec {
	return r3.Cross(f.XAxis, f.YAxis)
}

// Translated returns a copy of f moved by v. Axes are unchanged.
func (f Frame) Translated(v r3.Vec) Frame {
	f.Point = r3.Add(f.Point, v)
	return f
}

// OffsetAlongNormal moves the frame origin by d along its own z-axis.
func (f Frame) OffsetAlongNormal(d float64) Frame {
	return f.Translated(r3.Scale(d, r3.Unit(f.Normal())))
}

// Quaternion returns the frame orientation as a unit quaternion, the form
// controllers expect alongside the origin point.
func (f Frame) Quaternion() quat.Number {
	x, y := r3.Unit(f.XAxis), r3.Unit(f.YAxis)
	z := r3.Cross(x, y)
	m00, m01, m02 := x.X, y.X, z.X
	m10, m11, m12 := x.Y, y.Y, z.Y
	m20, m21, m22 := x.Z, y.Z, z.Z

	var q quat.Number
	switch trace := m00 + m11 + m22; {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return q
}

// Equal reports whether two frames match within Epsilon.
func (f Frame) Equal(o Frame) bool {
	return vecEqual(f.Point, o.Point) && vecEqual(f.XAxis, o.XAxis) && vecEqual(f.YAxis, o.YAxis)
}

func vecEqual(a, b r3.Vec) bool {
	return math.Abs(a.X-b.X) <= Epsilon && math.Abs(a.Y-b.Y) <= Epsilon && math.Abs(a.Z-b.Z) <= Epsilon
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame(Point(%.3f, %.3f, %.3f), Vector(%.3f, %.3f, %.3f), Vector(%.3f, %.3f, %.3f))",
		f.Point.X, f.Point.Y, f.Point.Z,
		f.XAxis.X, f.XAxis.Y, f.XAxis.Z,
		f.YAxis.X, f.YAxis.Y, f.YAxis.Z,
	)
}

// frameData is the JSON form shared with the planning tools.
type frameData struct {
	Point [3]float64 `json:"point"`
	XAxis [3]float64 `json:"xaxis"`
	YAxis [3]float64 `json:"yaxis"`
}

func toArray(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func fromArray(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

// MarshalJSON encodes the frame as {"point":[..],"xaxis":[..],"yaxis":[..]}.
func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(frameData{
		Point: toArray(f.Point),
		XAxis: toArray(f.XAxis),
		YAxis: toArray(f.YAxis),
	})
}

// UnmarshalJSON decodes the frame data form and orthonormalises the axes as
// NewFrame does. Axes that are already orthonormal are kept as stored so a
// round trip is exact; degenerate axes are rejected.
func (f *Frame) UnmarshalJSON(b []byte) error {
	var d frameData
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	x, y := fromArray(d.XAxis), fromArray(d.YAxis)
	frame, err := NewFrame(fromArray(d.Point), x, y)
	if err != nil {
		return err
	}
	if vecEqual(frame.XAxis, x) && vecEqual(frame.YAxis, y) {
		frame.XAxis, frame.YAxis = x, y
	}
	*f = frame
	return nil
}

// Joints is a set of robot axis angles in degrees.
type Joints []float64

// Equal reports whether both joint sets hold exactly the same values.
func (j Joints) Equal(o Joints) bool {
	if len(j) != len(o) {
		return false
	}
	for i := range j {
		if j[i] != o[i] {
			return false
		}
	}
	return true
}
