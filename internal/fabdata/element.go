// Package fabdata models the fabrication elements of a run, the pick
// station that feeds them, and the JSON/CSV run record tooling.
package fabdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/clayfab/internal/geom"
	"github.com/banshee-data/clayfab/internal/motion"
)

const (
	DefaultEgressDistance   = 150.0
	DefaultCompressionRatio = 0.5

	// AttrLocationCorrection is the Attrs key holding the last applied
	// location correction vector.
	AttrLocationCorrection = "location_correction"
)

var ErrMissingLocation = errors.New("element has no location frame")

// ID is an element identifier. Planning tools write ids either as numbers
// or strings and both forms are written back unchanged.
type ID struct {
	Value   string
	Numeric bool
}

// NumericID returns a numeric identifier.
func NumericID(i int) ID { return ID{Value: strconv.Itoa(i), Numeric: true} }

// StringID returns a string identifier.
func StringID(s string) ID { return ID{Value: s} }

func (id ID) String() string { return id.Value }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id.Value == "" && !id.Numeric }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if id.Numeric {
		return []byte(id.Value), nil
	}
	return json.Marshal(id.Value)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ID{}
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("element id must be a number or string: %w", err)
		}
		*id = ID{Value: n.String(), Numeric: true}
	}
	return nil
}

// Measurement is a point visited with the distance sensor.
type Measurement struct {
	Frame    geom.Frame `json:"frame"`
	Distance *float64   `json:"distance"`
}

// FabricationElement is one clay cylinder, either to be placed or already
// placed. Optional numeric attributes are nil when unset.
type FabricationElement struct {
	ID             ID
	Location       geom.Frame
	Height         float64
	EgressDistance float64

	Radius           *float64
	CompressionRatio *float64
	Density          *float64
	CycleTime        *float64
	Placed           *float64

	Attrs        map[string]any
	Measurements []Measurement

	// Travel trajectories planned offline. Nil means "not planned".
	PickEgressToSegmentEgress  motion.Trajectory
	SegmentEgressToPlaceEgress motion.Trajectory
	PlaceEgressToSegmentEgress motion.Trajectory
	SegmentEgressToPickEgress  motion.Trajectory

	// unknown keys from the data form, written back untouched
	extra map[string]json.RawMessage
}

// NewElement returns an element at location with default egress distance.
func NewElement(location geom.Frame, id ID, height float64) *FabricationElement {
	return &FabricationElement{
		ID:             id,
		Location:       location,
		Height:         height,
		EgressDistance: DefaultEgressDistance,
		Attrs:          map[string]any{},
	}
}

// Normal is the unit direction the element is stacked along.
func (e *FabricationElement) Normal() r3.Vec {
	return r3.Unit(e.Location.Normal())
}

func (e *FabricationElement) compressionRatio() float64 {
	if e.CompressionRatio == nil {
		return DefaultCompressionRatio
	}
	return *e.CompressionRatio
}

// UncompressedTopFrame is the top of the element before it is pressed.
func (e *FabricationElement) UncompressedTopFrame() geom.Frame {
	return e.Location.OffsetAlongNormal(e.Height)
}

// CompressedTopFrame is the top of the element after it is pressed.
func (e *FabricationElement) CompressedTopFrame() geom.Frame {
	return e.Location.OffsetAlongNormal(e.Height * e.compressionRatio())
}

// EgressFrame is the approach frame above the uncompressed top.
func (e *FabricationElement) EgressFrame() geom.Frame {
	return e.UncompressedTopFrame().OffsetAlongNormal(e.EgressDistance)
}

func (e *FabricationElement) TrajectoryEgressToTop() motion.Trajectory {
	return motion.FrameTrajectory{e.UncompressedTopFrame()}
}

func (e *FabricationElement) TrajectoryTopToCompressedTop() motion.Trajectory {
	return motion.FrameTrajectory{e.CompressedTopFrame()}
}

func (e *FabricationElement) TrajectoryCompressedTopToTop() motion.Trajectory {
	return motion.FrameTrajectory{e.UncompressedTopFrame()}
}

func (e *FabricationElement) TrajectoryTopToEgress() motion.Trajectory {
	return motion.FrameTrajectory{e.EgressFrame()}
}

// TravelTrajectories returns the four travel legs in execution order. Legs
// that were not planned fall back to going straight through the egress
// frame on the way in and to nothing on the way back.
func (e *FabricationElement) TravelTrajectories() (toSegment, toPlace, fromPlace, toPick motion.Trajectory) {
	orEmpty := func(t motion.Trajectory) motion.Trajectory {
		if t == nil {
			return motion.FrameTrajectory{}
		}
		return t
	}
	toPlace = e.SegmentEgressToPlaceEgress
	if toPlace == nil {
		toPlace = motion.FrameTrajectory{e.EgressFrame()}
	}
	return orEmpty(e.PickEgressToSegmentEgress), toPlace,
		orEmpty(e.PlaceEgressToSegmentEgress), orEmpty(e.SegmentEgressToPickEgress)
}

// CorrectLocation moves the location along the element normal by dist and
// records the applied vector in Attrs.
func (e *FabricationElement) CorrectLocation(dist float64) r3.Vec {
	v := r3.Scale(dist, e.Normal())
	e.Location = e.Location.Translated(v)
	if e.Attrs == nil {
		e.Attrs = map[string]any{}
	}
	e.Attrs[AttrLocationCorrection] = []float64{v.X, v.Y, v.Z}
	return v
}

// data keys
const (
	keyID                         = "id_"
	keyLocation                   = "location"
	keyHeight                     = "height"
	keyEgressDistance             = "egress_frame_distance"
	keyRadius                     = "radius"
	keyCompressionRatio           = "compression_ratio"
	keyDensity                    = "density"
	keyCycleTime                  = "cycle_time"
	keyPlaced                     = "placed"
	keyAttrs                      = "attrs"
	keyMeasurements               = "measurements"
	keyPickEgressToSegmentEgress  = "trajectory_pick_egress_to_segment_egress"
	keySegmentEgressToPlaceEgress = "trajectory_segment_egress_to_place_egress"
	keyPlaceEgressToSegmentEgress = "trajectory_place_egress_to_segment_egress"
	keySegmentEgressToPickEgress  = "trajectory_segment_egress_to_pick_egress"
)

// ToData returns the element's data form, one raw JSON value per key.
func (e *FabricationElement) ToData() (map[string]json.RawMessage, error) {
	d := make(map[string]json.RawMessage, len(e.extra)+15)
	for k, v := range e.extra {
		d[k] = v
	}
	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		d[key] = b
		return nil
	}
	attrs := e.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	fields := []struct {
		key string
		val any
	}{
		{keyID, e.ID},
		{keyLocation, e.Location},
		{keyHeight, e.Height},
		{keyEgressDistance, e.EgressDistance},
		{keyRadius, e.Radius},
		{keyCompressionRatio, e.CompressionRatio},
		{keyDensity, e.Density},
		{keyCycleTime, e.CycleTime},
		{keyPlaced, e.Placed},
		{keyAttrs, attrs},
		{keyPickEgressToSegmentEgress, motion.Data{Trajectory: e.PickEgressToSegmentEgress}},
		{keySegmentEgressToPlaceEgress, motion.Data{Trajectory: e.SegmentEgressToPlaceEgress}},
		{keyPlaceEgressToSegmentEgress, motion.Data{Trajectory: e.PlaceEgressToSegmentEgress}},
		{keySegmentEgressToPickEgress, motion.Data{Trajectory: e.SegmentEgressToPickEgress}},
	}
	for _, f := range fields {
		if err := put(f.key, f.val); err != nil {
			return nil, err
		}
	}
	if len(e.Measurements) > 0 {
		if err := put(keyMeasurements, e.Measurements); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// FromData builds an element from its data form.
func FromData(d map[string]json.RawMessage) (*FabricationElement, error) {
	e := &FabricationElement{EgressDistance: DefaultEgressDistance}
	extra := make(map[string]json.RawMessage)
	for k, v := range d {
		extra[k] = v
	}
	take := func(key string, dst any) error {
		raw, ok := extra[key]
		delete(extra, key)
		if !ok || isNull(raw) {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	}

	if raw, ok := d[keyLocation]; !ok || isNull(raw) {
		return nil, ErrMissingLocation
	}
	var (
		toSegment, toPlace, fromPlace, toPick motion.Data
	)
	targets := []struct {
		key string
		dst any
	}{
		{keyID, &e.ID},
		{keyLocation, &e.Location},
		{keyHeight, &e.Height},
		{keyEgressDistance, &e.EgressDistance},
		{keyRadius, &e.Radius},
		{keyCompressionRatio, &e.CompressionRatio},
		{keyDensity, &e.Density},
		{keyCycleTime, &e.CycleTime},
		{keyPlaced, &e.Placed},
		{keyAttrs, &e.Attrs},
		{keyMeasurements, &e.Measurements},
		{keyPickEgressToSegmentEgress, &toSegment},
		{keySegmentEgressToPlaceEgress, &toPlace},
		{keyPlaceEgressToSegmentEgress, &fromPlace},
		{keySegmentEgressToPickEgress, &toPick},
	}
	for _, t := range targets {
		if err := take(t.key, t.dst); err != nil {
			return nil, err
		}
	}
	e.PickEgressToSegmentEgress = toSegment.Trajectory
	e.SegmentEgressToPlaceEgress = toPlace.Trajectory
	e.PlaceEgressToSegmentEgress = fromPlace.Trajectory
	e.SegmentEgressToPickEgress = toPick.Trajectory
	if e.Attrs == nil {
		e.Attrs = map[string]any{}
	}
	if len(extra) > 0 {
		e.extra = extra
	}
	return e, nil
}

func (e *FabricationElement) MarshalJSON() ([]byte, error) {
	d, err := e.ToData()
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

func (e *FabricationElement) UnmarshalJSON(b []byte) error {
	var d map[string]json.RawMessage
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("decode element: %w", err)
	}
	parsed, err := FromData(d)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// IsSet reports whether the named attribute holds a non-null value. Names
// outside the element schema are looked up in Attrs.
func (e *FabricationElement) IsSet(name string) (bool, error) {
	if !isSchemaKey(name) {
		v, ok := e.Attrs[name]
		return ok && v != nil, nil
	}
	d, err := e.ToData()
	if err != nil {
		return false, err
	}
	raw, ok := d[name]
	return ok && !isNull(raw), nil
}

// Set assigns the named attribute from a JSON compatible value. Names outside
// the element schema are stored in Attrs.
func (e *FabricationElement) Set(name string, value any) error {
	if !isSchemaKey(name) {
		if e.Attrs == nil {
			e.Attrs = map[string]any{}
		}
		e.Attrs[name] = value
		return nil
	}
	d, err := e.ToData()
	if err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	d[name] = b
	updated, err := FromData(d)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	*e = *updated
	return nil
}

func isSchemaKey(name string) bool {
	switch name {
	case keyID, keyLocation, keyHeight, keyEgressDistance, keyRadius,
		keyCompressionRatio, keyDensity, keyCycleTime, keyPlaced, keyAttrs,
		keyMeasurements, keyPickEgressToSegmentEgress, keySegmentEgressToPlaceEgress,
		keyPlaceEgressToSegmentEgress, keySegmentEgressToPickEgress:
		return true
	}
	return false
}
