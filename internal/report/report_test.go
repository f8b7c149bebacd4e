package report

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/clayfab/internal/fabdata"
	"github.com/banshee-data/clayfab/internal/geom"
)

func elementsWithCycleTimes(times ...float64) []*fabdata.FabricationElement {
	elems := make([]*fabdata.FabricationElement, len(times))
	for i, ct := range times {
		elems[i] = fabdata.NewElement(geom.WorldXY(), fabdata.NumericID(i), 100)
		if ct > 0 {
			v := ct
			elems[i].CycleTime = &v
		}
	}
	return elems
}

func TestCycleTimes_SkipsUnset(t *testing.T) {
	pts := CycleTimes(elementsWithCycleTimes(30, 0, 34))

	assert.Equal(t, []Point{
		{Index: 0, Label: "0", Seconds: 30},
		{Index: 2, Label: "2", Seconds: 34},
	}, pts)
}

func TestWriteCycleTimeHTML(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCycleTimeHTML(&buf, "wall run", CycleTimes(elementsWithCycleTimes(30, 34)))
	require.NoError(t, err)

	html := buf.String()
	assert.True(t, strings.Contains(html, "wall run"))
	assert.True(t, strings.Contains(html, "mean=32.0s"))
}

func TestWriteCycleTimePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCycleTimePNG(&buf, "wall run", CycleTimes(elementsWithCycleTimes(30, 34, 31))))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestWrite_NoData(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteCycleTimeHTML(&buf, "x", nil), ErrNoData)
	assert.ErrorIs(t, WriteCycleTimePNG(&buf, "x", nil), ErrNoData)
}
