package fabdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/clayfab/internal/fsutil"
	"github.com/banshee-data/clayfab/internal/geom"
	"github.com/banshee-data/clayfab/internal/monitoring"
)

const (
	DefaultElemHeight            = 150.0
	DefaultElemEgressDistance    = 150.0
	DefaultStationEgressDistance = 400.0

	// PickElementID is the id given to elements handed out by a station.
	PickElementID = "pick_elem"
)

var ErrEmptyPickStation = errors.New("pick station has no pick frames")

// PickStation hands out pick frames in order and starts over at the first
// frame once every frame has been used. The counter is not persisted.
type PickStation struct {
	Frames                []geom.Frame
	ElemHeight            float64
	ElemEgressDistance    float64
	StationEgressDistance float64

	counter int
}

// NewPickStation returns a station with the default element geometry.
func NewPickStation(frames []geom.Frame) *PickStation {
	return &PickStation{
		Frames:                frames,
		ElemHeight:            DefaultElemHeight,
		ElemEgressDistance:    DefaultElemEgressDistance,
		StationEgressDistance: DefaultStationEgressDistance,
	}
}

// NextPickFrame returns the next frame in the cycle.
func (p *PickStation) NextPickFrame() (geom.Frame, error) {
	if len(p.Frames) == 0 {
		return geom.Frame{}, ErrEmptyPickStation
	}
	frame := p.Frames[p.counter%len(p.Frames)]
	monitoring.Debugf("pick station: frame %d of %d (request %d)", p.counter%len(p.Frames), len(p.Frames), p.counter)
	p.counter++
	return frame, nil
}

// NextPickElement wraps the next pick frame in an element carrying the
// station's element geometry.
func (p *PickStation) NextPickElement() (*FabricationElement, error) {
	frame, err := p.NextPickFrame()
	if err != nil {
		return nil, err
	}
	elem := NewElement(frame, StringID(PickElementID), p.ElemHeight)
	elem.EgressDistance = p.ElemEgressDistance
	return elem, nil
}

// StationEgressFrame is the approach frame StationEgressDistance above the
// first pick frame along world Z, whatever the frame's own tilt.
func (p *PickStation) StationEgressFrame() (geom.Frame, error) {
	if len(p.Frames) == 0 {
		return geom.Frame{}, ErrEmptyPickStation
	}
	return p.Frames[0].Translated(r3.Vec{Z: p.StationEgressDistance}), nil
}

type pickStationData struct {
	PickFrames            []geom.Frame `json:"pick_frames"`
	ElemHeight            *float64     `json:"elem_height,omitempty"`
	ElemEgressDistance    *float64     `json:"elem_egress_distance,omitempty"`
	StationEgressDistance *float64     `json:"station_egress_distance,omitempty"`
}

func (p *PickStation) MarshalJSON() ([]byte, error) {
	return json.Marshal(pickStationData{
		PickFrames:            p.Frames,
		ElemHeight:            &p.ElemHeight,
		ElemEgressDistance:    &p.ElemEgressDistance,
		StationEgressDistance: &p.StationEgressDistance,
	})
}

// UnmarshalJSON reads the station data form. Missing distances take the
// defaults and the counter starts from zero.
func (p *PickStation) UnmarshalJSON(b []byte) error {
	var d pickStationData
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("decode pick station: %w", err)
	}
	station := NewPickStation(d.PickFrames)
	if d.ElemHeight != nil {
		station.ElemHeight = *d.ElemHeight
	}
	if d.ElemEgressDistance != nil {
		station.ElemEgressDistance = *d.ElemEgressDistance
	}
	if d.StationEgressDistance != nil {
		station.StationEgressDistance = *d.StationEgressDistance
	}
	*p = *station
	return nil
}

// LoadPickStation reads a station from a .json, .yaml or .yml file. YAML
// files use the same keys as the JSON form.
func LoadPickStation(fsys fsutil.FileSystem, path string) (*PickStation, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pick station: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode pick station YAML: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("decode pick station YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("pick station file must be .json, .yaml or .yml, got %q", ext)
	}
	var p PickStation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}
