package fabdata

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/clayfab/internal/fsutil"
)

func writeRecord(t *testing.T, fs *fsutil.MemoryFileSystem, path string, n int) {
	t.Helper()
	var elems []string
	for i := 0; i < n; i++ {
		elems = append(elems, fmt.Sprintf(
			`{"id_":%d,"location":{"point":[%d,0,0],"xaxis":[1,0,0],"yaxis":[0,1,0]},"height":100}`, i+10, i*100))
	}
	doc := fmt.Sprintf(`{"meta":{"operator":"kim","version":2},"fab_data":[%s]}`, strings.Join(elems, ","))
	require.NoError(t, fs.WriteFile(path, []byte(doc), 0644))
}

func TestRecords_LoadRejectsNonJSON(t *testing.T) {
	r := NewRecords(fsutil.NewMemoryFileSystem())
	_, err := r.Load("run.yaml")
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestRecords_LoadMissingFabData(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("run.json", []byte(`{"meta":{}}`), 0644))

	_, err := NewRecords(fs).Load("run.json")
	assert.ErrorIs(t, err, ErrMissingFabData)
}

func TestRecords_SavePreservesOtherKeys(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 2)
	r := NewRecords(fs)

	rec, err := r.Load("run.json")
	require.NoError(t, err)
	require.NoError(t, r.Save("run.json", rec))

	data, err := fs.ReadFile("run.json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]any{"operator": "kim", "version": 2.0}, doc["meta"])
	assert.Len(t, doc[FabDataKey], 2)
}

func TestUpdateAttrs_Range(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 5)
	r := NewRecords(fs)

	report, err := r.UpdateAttrs("run.json", map[string]any{"radius": 40.0}, UpdateOptions{From: 2, To: 4})
	require.NoError(t, err)
	require.Len(t, report, 5)

	elems, err := r.LoadElements("run.json")
	require.NoError(t, err)
	for i, elem := range elems {
		inRange := i == 2 || i == 3
		assert.Equal(t, inRange, report[i].Modified, "report for element %d", i)
		assert.Equal(t, i, report[i].Index)
		if inRange {
			require.NotNil(t, elem.Radius, "element %d", i)
			assert.Equal(t, 40.0, *elem.Radius)
		} else {
			assert.Nil(t, elem.Radius, "element %d", i)
		}
	}
	assert.Equal(t, 2, fs.WriteCount("run.json"), "record should be rewritten once")
}

func TestUpdateAttrs_IdempotentWithoutOverwrite(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 3)
	r := NewRecords(fs)
	attrs := map[string]any{"density": 1.9, "glaze": "none"}

	first, err := r.UpdateAttrs("run.json", attrs, UpdateOptions{})
	require.NoError(t, err)
	for _, u := range first {
		assert.True(t, u.Modified)
	}
	after1, err := fs.ReadFile("run.json")
	require.NoError(t, err)

	second, err := r.UpdateAttrs("run.json", map[string]any{"density": 2.5, "glaze": "matte"}, UpdateOptions{})
	require.NoError(t, err)
	for _, u := range second {
		assert.False(t, u.Modified)
	}
	after2, err := fs.ReadFile("run.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(after1), string(after2))
}

func TestUpdateAttrs_Overwrite(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 2)
	r := NewRecords(fs)

	_, err := r.UpdateAttrs("run.json", map[string]any{"height": 120.0}, UpdateOptions{Overwrite: true})
	require.NoError(t, err)

	elems, err := r.LoadElements("run.json")
	require.NoError(t, err)
	for _, elem := range elems {
		assert.Equal(t, 120.0, elem.Height)
	}
}

func TestUpdateAttrs_ResetIDs(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 3)
	r := NewRecords(fs)

	report, err := r.UpdateAttrs("run.json", nil, UpdateOptions{ResetIDs: true})
	require.NoError(t, err)
	for i, u := range report {
		assert.Equal(t, NumericID(i), u.ID)
		assert.False(t, u.Modified)
	}
}

func TestMarkPlaced(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 3)
	r := NewRecords(fs)
	r.SetNow(func() time.Time { return time.Unix(1700000000, 0) })

	_, err := r.MarkPlaced("run.json", 0, 2)
	require.NoError(t, err)

	elems, err := r.LoadElements("run.json")
	require.NoError(t, err)
	require.NotNil(t, elems[0].Placed)
	assert.Equal(t, 1700000000.0, *elems[0].Placed)
	require.NotNil(t, elems[1].Placed)
	assert.Nil(t, elems[2].Placed)
}

func TestRenumber(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeRecord(t, fs, "run.json", 3)
	r := NewRecords(fs)

	require.NoError(t, r.Renumber("run.json", "wall_"))
	elems, err := r.LoadElements("run.json")
	require.NoError(t, err)
	assert.Equal(t, StringID("wall_000"), elems[0].ID)
	assert.Equal(t, StringID("wall_002"), elems[2].ID)

	require.NoError(t, r.Renumber("run.json", ""))
	elems, err = r.LoadElements("run.json")
	require.NoError(t, err)
	assert.Equal(t, NumericID(1), elems[1].ID)
}

func TestAverageCycleTime(t *testing.T) {
	elems := []*FabricationElement{
		{CycleTime: ptr(10)},
		{CycleTime: ptr(20)},
		{},
	}
	avg, err := AverageCycleTime(elems)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, avg, 1e-9)

	_, err = AverageCycleTime([]*FabricationElement{{}})
	assert.ErrorIs(t, err, ErrNoCycleTimes)
}
