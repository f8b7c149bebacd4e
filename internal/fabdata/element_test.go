package fabdata

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/clayfab/internal/geom"
	"github.com/banshee-data/clayfab/internal/motion"
)

func ptr(v float64) *float64 { return &v }

func testElement() *FabricationElement {
	loc := geom.WorldXY().Translated(r3.Vec{X: 500, Y: -120, Z: 30})
	e := NewElement(loc, NumericID(7), 80)
	e.Radius = ptr(45)
	e.CompressionRatio = ptr(0.6)
	e.Density = ptr(1.8)
	e.Attrs["layer"] = 3.0
	e.PickEgressToSegmentEgress = motion.JointTrajectory{
		{0, 10, 20, 0, 45, 0},
		{5, 12, 22, 0, 40, 0},
	}
	e.SegmentEgressToPlaceEgress = motion.FrameTrajectory{loc.OffsetAlongNormal(400)}
	return e
}

var elementCmpOpts = cmp.Options{
	cmpopts.IgnoreUnexported(FabricationElement{}),
	cmpopts.EquateEmpty(),
}

func TestElement_DataRoundTrip(t *testing.T) {
	e := testElement()

	d, err := e.ToData()
	require.NoError(t, err)

	got, err := FromData(d)
	require.NoError(t, err)

	if diff := cmp.Diff(e, got, elementCmpOpts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestElement_JSONKeepsUnknownKeys(t *testing.T) {
	in := `{"id_":"a1","location":{"point":[0,0,0],"xaxis":[1,0,0],"yaxis":[0,1,0]},
		"height":100,"planner_version":"2.3","radius":null}`

	var e FabricationElement
	require.NoError(t, json.Unmarshal([]byte(in), &e))
	assert.Equal(t, StringID("a1"), e.ID)
	assert.Nil(t, e.Radius)
	assert.Equal(t, DefaultEgressDistance, e.EgressDistance)

	out, err := json.Marshal(&e)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "2.3", doc["planner_version"])
	assert.Equal(t, "a1", doc["id_"])
}

func TestElement_NumericIDStaysNumeric(t *testing.T) {
	e := testElement()
	out, err := json.Marshal(e)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, 7.0, doc["id_"])
}

func TestFromData_MissingLocation(t *testing.T) {
	_, err := FromData(map[string]json.RawMessage{"height": json.RawMessage("10")})
	assert.ErrorIs(t, err, ErrMissingLocation)
}

func TestElement_DerivedFrames(t *testing.T) {
	e := testElement()

	assert.InDelta(t, 110.0, e.UncompressedTopFrame().Point.Z, 1e-9)
	assert.InDelta(t, 30+80*0.6, e.CompressedTopFrame().Point.Z, 1e-9)
	assert.InDelta(t, 260.0, e.EgressFrame().Point.Z, 1e-9)

	e.CompressionRatio = nil
	assert.InDelta(t, 30+80*DefaultCompressionRatio, e.CompressedTopFrame().Point.Z, 1e-9)
}

func TestElement_TravelTrajectoriesFallback(t *testing.T) {
	e := NewElement(geom.WorldXY(), NumericID(1), 100)

	toSegment, toPlace, fromPlace, toPick := e.TravelTrajectories()
	assert.Equal(t, 0, toSegment.Len())
	assert.Equal(t, 0, fromPlace.Len())
	assert.Equal(t, 0, toPick.Len())

	frames, ok := toPlace.(motion.FrameTrajectory)
	require.True(t, ok, "fallback should be a frame trajectory")
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Equal(e.EgressFrame()))
}

func TestElement_CorrectLocation(t *testing.T) {
	e := testElement()
	before := e.EgressFrame()

	v := e.CorrectLocation(-4)

	assert.Equal(t, r3.Vec{Z: -4}, v)
	assert.InDelta(t, 26.0, e.Location.Point.Z, 1e-9)
	assert.InDelta(t, before.Point.Z-4, e.EgressFrame().Point.Z, 1e-9)
	assert.Equal(t, []float64{0, 0, -4}, e.Attrs[AttrLocationCorrection])

	top := e.TrajectoryEgressToTop().(motion.FrameTrajectory)
	assert.InDelta(t, 106.0, top[0].Point.Z, 1e-9)
}

func TestElement_SetAndIsSet(t *testing.T) {
	e := NewElement(geom.WorldXY(), NumericID(1), 100)

	set, err := e.IsSet("radius")
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, e.Set("radius", 42.5))
	require.NotNil(t, e.Radius)
	assert.Equal(t, 42.5, *e.Radius)

	set, err = e.IsSet("radius")
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, e.Set("operator", "kim"))
	assert.Equal(t, "kim", e.Attrs["operator"])
	set, err = e.IsSet("operator")
	require.NoError(t, err)
	assert.True(t, set)

	assert.Error(t, e.Set("radius", "wide"))
}
