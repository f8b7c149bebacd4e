package sequencer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/clayfab/internal/config"
	"github.com/banshee-data/clayfab/internal/fabdata"
	"github.com/banshee-data/clayfab/internal/geom"
	"github.com/banshee-data/clayfab/internal/rrc"
	"github.com/banshee-data/clayfab/internal/sensor"
)

type stageEvent struct{ from, to Stage }

func recordStages(s *Sequencer) *[]stageEvent {
	var events []stageEvent
	s.OnStage = func(_ *fabdata.FabricationElement, from, to Stage) {
		events = append(events, stageEvent{from, to})
	}
	return &events
}

func withSensor(c *config.RobotConfig) {
	c.Tools.DistSensor.SerialPort = "/dev/ttyUSB1"
}

type failingSensor struct{}

func (failingSensor) Measure(context.Context) (float64, error) { return 0, sensor.ErrNoReading }

func placeElement() *fabdata.FabricationElement {
	return fabdata.NewElement(geom.WorldXY().Translated(r3.Vec{X: 300, Y: 40}), fabdata.NumericID(3), 100)
}

func TestPickElement_Sequence(t *testing.T) {
	f := newFixture(t, nil)
	f.client.WatchSeconds = 12.5
	elem := placeElement()
	events := recordStages(f.seq)

	fut, err := f.seq.PickElement(context.Background(), elem)
	require.NoError(t, err)

	assert.Equal(t, []string{
		rrc.InstructionSetTool,
		rrc.InstructionSetWorkObject,
		rrc.InstructionStartWatch,
		rrc.InstructionMoveToFrame,
		rrc.InstructionMoveToFrame,
		rrc.InstructionWaitTime,
		rrc.InstructionSetDigital,
		rrc.InstructionWaitTime,
		rrc.InstructionMoveToFrame,
		rrc.InstructionStopWatch,
		rrc.InstructionReadWatch,
	}, f.client.Instructions())
	assert.Equal(t, []string{f.cfg.Wobjs.Pick}, f.client.Sent[1].StringValues)
	assert.Equal(t, []float64{float64(f.cfg.Tools.PickPlace.ExtendSignal)}, f.client.Sent[6].FloatValues)
	// egress, then top of the element
	assert.InDelta(t, 250.0, f.client.Sent[3].FloatValues[2], 1e-9)
	assert.InDelta(t, 100.0, f.client.Sent[4].FloatValues[2], 1e-9)

	secs, err := fut.Seconds(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 12.5, secs)
	assert.Equal(t, []stageEvent{{StageIdle, StagePicked}}, *events)
}

func TestPlaceElement_SequenceWithoutSensor(t *testing.T) {
	f := newFixture(t, nil)
	elem := placeElement()
	events := recordStages(f.seq)

	_, err := f.seq.PlaceElement(context.Background(), elem)
	require.NoError(t, err)

	assert.Equal(t, []string{
		rrc.InstructionSetWorkObject,
		rrc.InstructionSetTool,
		rrc.InstructionStartWatch,
		rrc.InstructionMoveToFrame, // place egress
		rrc.InstructionMoveToFrame, // top
		rrc.InstructionWaitTime,
		rrc.InstructionSetDigital,
		rrc.InstructionWaitTime,
		rrc.InstructionMoveToFrame, // compressed top
		rrc.InstructionMoveToFrame, // top
		rrc.InstructionMoveToFrame, // egress
		rrc.InstructionStopWatch,
		rrc.InstructionReadWatch,
	}, f.client.Instructions())
	assert.Equal(t, []string{f.cfg.Tools.PickPlace.Name}, f.client.Sent[1].StringValues)
	assert.InDelta(t, 100*fabdata.DefaultCompressionRatio, f.client.Sent[8].FloatValues[2], 1e-9)
	assert.NotContains(t, f.client.Waited, true)

	assert.Equal(t, []stageEvent{
		{StageIdle, StageInTransit},
		{StageInTransit, StagePlacing},
		{StagePlacing, StageCompressed},
		{StageCompressed, StageReleased},
		{StageReleased, StageReturned},
		{StageReturned, StageDone},
	}, *events)
}

func TestPlaceElement_CorrectsLocationFromSensor(t *testing.T) {
	cfg := *config.DefaultRobotConfig()
	withSensor(&cfg)
	client := &rrc.MockClient{}
	// surface 4 mm higher than planned
	seq := New(client, cfg, Options{Sensor: sensor.Dummy{Value: fabdata.DefaultEgressDistance - 4}})
	events := recordStages(seq)
	elem := placeElement()

	_, err := seq.PlaceElement(context.Background(), elem)
	require.NoError(t, err)

	got := client.Instructions()
	assert.Equal(t, []string{
		rrc.InstructionSetWorkObject,
		rrc.InstructionSetTool,
		rrc.InstructionStartWatch,
		rrc.InstructionMoveToFrame,
		rrc.InstructionSetTool,
		rrc.InstructionMoveToFrame,
	}, got[:6])
	assert.Equal(t, []string{cfg.Tools.DistSensor.Name}, client.Sent[1].StringValues)
	assert.Equal(t, []string{cfg.Tools.PickPlace.Name}, client.Sent[4].StringValues)
	assert.True(t, client.Waited[5], "measurement move must block")

	assert.InDelta(t, 4.0, elem.Location.Point.Z, 1e-9)
	assert.Equal(t, []float64{0, 0, 4}, elem.Attrs[fabdata.AttrLocationCorrection])
	// the top frame after correction
	assert.InDelta(t, 104.0, client.Sent[6].FloatValues[2], 1e-9)

	assert.Contains(t, *events, stageEvent{StagePlacing, StageMeasured})
	assert.Contains(t, *events, stageEvent{StageMeasured, StageCorrected})
	assert.Contains(t, *events, stageEvent{StageCorrected, StageCompressed})
}

func TestPlaceElement_SmallDifferenceIsNotCorrected(t *testing.T) {
	cfg := *config.DefaultRobotConfig()
	withSensor(&cfg)
	seq := New(&rrc.MockClient{}, cfg, Options{Sensor: sensor.Dummy{Value: fabdata.DefaultEgressDistance - 0.2}})
	events := recordStages(seq)
	elem := placeElement()

	_, err := seq.PlaceElement(context.Background(), elem)
	require.NoError(t, err)

	assert.Zero(t, elem.Location.Point.Z)
	assert.NotContains(t, elem.Attrs, fabdata.AttrLocationCorrection)
	assert.Contains(t, *events, stageEvent{StageMeasured, StageCompressed})
}

func TestPlaceElement_UnacceptableDistanceHalts(t *testing.T) {
	cfg := *config.DefaultRobotConfig()
	withSensor(&cfg)
	client := &rrc.MockClient{}
	seq := New(client, cfg, Options{Sensor: sensor.Dummy{Value: fabdata.DefaultEgressDistance + 35}})
	elem := placeElement()

	fut, err := seq.PlaceElement(context.Background(), elem)

	assert.Nil(t, fut)
	assert.ErrorIs(t, err, ErrUnacceptableDistance)
	assert.NotContains(t, client.Instructions(), rrc.InstructionSetDigital)
	assert.NotContains(t, client.Instructions(), rrc.InstructionReadWatch)
	assert.Zero(t, elem.Location.Point.Z)
	assert.Equal(t, StagePlacing, seq.Stage())
}

func TestPlaceElement_ExpectedOverride(t *testing.T) {
	cfg := *config.DefaultRobotConfig()
	withSensor(&cfg)
	expected := 80.0
	cfg.Measurement.Expected = &expected
	seq := New(&rrc.MockClient{}, cfg, Options{Sensor: sensor.Dummy{Value: 82}})
	elem := placeElement()

	diff, err := seq.MeasureZDiff(context.Background(), elem)
	require.NoError(t, err)
	assert.Equal(t, -2.0, diff)
}

func TestPlaceElement_SensorFailure(t *testing.T) {
	cfg := *config.DefaultRobotConfig()
	withSensor(&cfg)
	seq := New(&rrc.MockClient{}, cfg, Options{Sensor: failingSensor{}})

	_, err := seq.PlaceElement(context.Background(), placeElement())
	assert.ErrorIs(t, err, sensor.ErrNoReading)
}

func TestPickThenPlace_Stages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for range 2 {
		elem := placeElement()
		_, err := f.seq.PickElement(ctx, elem)
		require.NoError(t, err)
		_, err = f.seq.PlaceElement(ctx, elem)
		require.NoError(t, err)
		assert.Equal(t, StageDone, f.seq.Stage())
	}

	_, err := f.seq.PlaceElement(ctx, placeElement())
	assert.ErrorIs(t, err, ErrStageOrder)
}

func TestMeasureElement_StoresReadings(t *testing.T) {
	cfg := *config.DefaultRobotConfig()
	client := &rrc.MockClient{}
	seq := New(client, cfg, Options{Sensor: sensor.Dummy{Value: 42}})
	elem := placeElement()
	elem.Measurements = []fabdata.Measurement{
		{Frame: geom.WorldXY().OffsetAlongNormal(200)},
		{Frame: geom.WorldXY().OffsetAlongNormal(210)},
	}

	require.NoError(t, seq.MeasureElement(context.Background(), elem))

	assert.Equal(t, []string{
		rrc.InstructionSetTool,
		rrc.InstructionSetWorkObject,
		rrc.InstructionMoveToFrame,
		rrc.InstructionMoveToFrame,
	}, client.Instructions())
	assert.Equal(t, []bool{false, false, true, true}, client.Waited)
	for _, m := range elem.Measurements {
		require.NotNil(t, m.Distance)
		assert.Equal(t, 42.0, *m.Distance)
	}
}

func TestMeasureElement_SendFailure(t *testing.T) {
	client := &rrc.MockClient{Err: errors.New("link down")}
	seq := New(client, *config.DefaultRobotConfig(), Options{})

	err := seq.MeasureElement(context.Background(), placeElement())
	assert.ErrorContains(t, err, "link down")
}

func TestAdvance_RejectsBackwards(t *testing.T) {
	f := newFixture(t, nil)
	elem := placeElement()

	require.NoError(t, f.seq.advance(elem, StageCompressed))
	assert.ErrorIs(t, f.seq.advance(elem, StagePlacing), ErrStageOrder)
	assert.ErrorIs(t, f.seq.advance(elem, StageCompressed), ErrStageOrder)
	assert.ErrorIs(t, f.seq.advance(elem, Stage("bogus")), ErrStageOrder)
	require.NoError(t, f.seq.advance(elem, StageDone))
}
