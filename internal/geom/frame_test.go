package geom

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewFrame_Orthonormalises(t *testing.T) {
	f, err := NewFrame(r3.Vec{X: 10}, r3.Vec{X: 2}, r3.Vec{X: 1, Y: 3})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if math.Abs(r3.Norm(f.XAxis)-1) > Epsilon || math.Abs(r3.Norm(f.YAxis)-1) > Epsilon {
		t.Errorf("axes not unit length: %v %v", f.XAxis, f.YAxis)
	}
	if d := r3.Dot(f.XAxis, f.YAxis); math.Abs(d) > Epsilon {
		t.Errorf("axes not orthogonal, dot=%f", d)
	}
	if !vecEqual(f.Normal(), r3.Vec{Z: 1}) {
		t.Errorf("Normal() = %v, want +Z", f.Normal())
	}
}

func TestNewFrame_Degenerate(t *testing.T) {
	cases := []struct {
		name string
		x, y r3.Vec
	}{
		{"zero x", r3.Vec{}, r3.Vec{Y: 1}},
		{"zero y", r3.Vec{X: 1}, r3.Vec{}},
		{"parallel", r3.Vec{X: 1}, r3.Vec{X: -4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFrame(r3.Vec{}, tc.x, tc.y); !errors.Is(err, ErrDegenerateFrame) {
				t.Errorf("expected ErrDegenerateFrame, got %v", err)
			}
		})
	}
}

func TestFrame_OffsetAlongNormal(t *testing.T) {
	f := WorldXY().Translated(r3.Vec{X: 1, Y: 2, Z: 3})
	got := f.OffsetAlongNormal(150)
	want := r3.Vec{X: 1, Y: 2, Z: 153}
	if !vecEqual(got.Point, want) {
		t.Errorf("OffsetAlongNormal point = %v, want %v", got.Point, want)
	}
	if !vecEqual(got.XAxis, f.XAxis) || !vecEqual(got.YAxis, f.YAxis) {
		t.Error("OffsetAlongNormal changed the axes")
	}
}

func TestFrame_JSONRoundTrip(t *testing.T) {
	f, err := NewFrame(r3.Vec{X: 100.5, Y: -20, Z: 7}, r3.Vec{X: 1, Y: 1}, r3.Vec{X: -1, Y: 1})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Frame
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != f {
		t.Errorf("round trip mismatch: got %v want %v", got, f)
	}
}

func TestFrame_UnmarshalRejectsDegenerate(t *testing.T) {
	var f Frame
	err := json.Unmarshal([]byte(`{"point":[0,0,0],"xaxis":[1,0,0],"yaxis":[2,0,0]}`), &f)
	if !errors.Is(err, ErrDegenerateFrame) {
		t.Errorf("expected ErrDegenerateFrame, got %v", err)
	}
}

func TestFrame_UnmarshalOrthonormalisesSkewedAxes(t *testing.T) {
	var f Frame
	if err := json.Unmarshal([]byte(`{"point":[1,2,3],"xaxis":[2,0,0],"yaxis":[1,1,0]}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := Frame{Point: r3.Vec{X: 1, Y: 2, Z: 3}, XAxis: r3.Vec{X: 1}, YAxis: r3.Vec{Y: 1}}
	if !f.Equal(want) {
		t.Errorf("got %v, want %v", f, want)
	}
	if d := r3.Dot(f.XAxis, f.YAxis); math.Abs(d) > 1e-9 {
		t.Errorf("axes not orthogonal, dot = %v", d)
	}

	q := f.Quaternion()
	norm := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("|q| = %v, want 1", norm)
	}
}

func TestJoints_Equal(t *testing.T) {
	a := Joints{0, 10, 20, 0, 90, 0}
	if !a.Equal(Joints{0, 10, 20, 0, 90, 0}) {
		t.Error("identical joints should be equal")
	}
	if a.Equal(Joints{0, 10, 20, 0, 90}) {
		t.Error("different lengths should not be equal")
	}
	if a.Equal(Joints{0, 10, 20, 0, 90, 0.001}) {
		t.Error("different values should not be equal")
	}
	var empty Joints
	if empty.Equal(a) {
		t.Error("nil joints should not equal a populated set")
	}
}

func TestFrame_Quaternion(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
		want  [4]float64
	}{
		{"identity", WorldXY(), [4]float64{1, 0, 0, 0}},
		{"flipped tool", Frame{XAxis: r3.Vec{X: 1}, YAxis: r3.Vec{Y: -1}}, [4]float64{0, 1, 0, 0}},
		{"quarter turn about z", Frame{XAxis: r3.Vec{Y: 1}, YAxis: r3.Vec{X: -1}}, [4]float64{math.Sqrt2 / 2, 0, 0, math.Sqrt2 / 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.frame.Quaternion()
			got := [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
			for i := range got {
				if math.Abs(got[i]-tc.want[i]) > 1e-9 {
					t.Fatalf("Quaternion() = %v, want %v", got, tc.want)
				}
			}
		})
	}
}
