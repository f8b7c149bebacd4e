package fabdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/clayfab/internal/fsutil"
	"github.com/banshee-data/clayfab/internal/monitoring"
)

// FabDataKey is the run record key holding the element list.
const FabDataKey = "fab_data"

var (
	ErrNotJSON        = errors.New("file needs to be a json file and have .json as the extension")
	ErrMissingFabData = errors.New("run record has no " + FabDataKey + " key")
	ErrNoCycleTimes   = errors.New("no element has a cycle time")
)

// RunRecord is a parsed run record. Keys other than fab_data are kept as
// read and written back unchanged.
type RunRecord struct {
	Elements []*FabricationElement
	extra    map[string]json.RawMessage
}

// ParseRunRecord decodes a run record document.
func ParseRunRecord(b []byte) (*RunRecord, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode run record: %w", err)
	}
	raw, ok := doc[FabDataKey]
	if !ok {
		return nil, ErrMissingFabData
	}
	var elems []*FabricationElement
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode %s: %w", FabDataKey, err)
	}
	delete(doc, FabDataKey)
	return &RunRecord{Elements: elems, extra: doc}, nil
}

// Marshal encodes the full run record.
func (r *RunRecord) Marshal() ([]byte, error) {
	doc := make(map[string]any, len(r.extra)+1)
	for k, v := range r.extra {
		doc[k] = v
	}
	elems := r.Elements
	if elems == nil {
		elems = []*FabricationElement{}
	}
	doc[FabDataKey] = elems
	return json.MarshalIndent(doc, "", "  ")
}

// Records reads and rewrites run record files.
type Records struct {
	fs  fsutil.FileSystem
	now func() time.Time
}

// NewRecords returns record tooling backed by fsys.
func NewRecords(fsys fsutil.FileSystem) *Records {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Records{fs: fsys, now: time.Now}
}

// SetNow replaces the clock used for placement timestamps.
func (r *Records) SetNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func checkJSONPath(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return fmt.Errorf("%s: %w", path, ErrNotJSON)
	}
	return nil
}

// Load reads the run record at path.
func (r *Records) Load(path string) (*RunRecord, error) {
	if err := checkJSONPath(path); err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}
	rec, err := ParseRunRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Save replaces the run record at path. The new content is written to a
// temporary file and renamed over the old one.
func (r *Records) Save(path string, rec *RunRecord) error {
	if err := checkJSONPath(path); err != nil {
		return err
	}
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

// LoadElements returns the elements of the run record at path.
func (r *Records) LoadElements(path string) ([]*FabricationElement, error) {
	rec, err := r.Load(path)
	if err != nil {
		return nil, err
	}
	return rec.Elements, nil
}

// UpdateOptions selects which elements UpdateAttrs touches.
type UpdateOptions struct {
	// From is the first index updated (inclusive).
	From int
	// To is the end of the range (exclusive). Zero means the end of the list.
	To int
	// Overwrite replaces attributes that are already set.
	Overwrite bool
	// ResetIDs renumbers every element to its index before updating.
	ResetIDs bool
}

// ElementUpdate reports what happened to one element.
type ElementUpdate struct {
	Index    int
	ID       ID
	Modified bool
}

// UpdateAttrs sets attrs on the elements in [From, To) where the attribute
// is unset, or on all of them with Overwrite. Every element gets an entry
// in the report. The file is rewritten once after all elements are processed.
func (r *Records) UpdateAttrs(path string, attrs map[string]any, opts UpdateOptions) ([]ElementUpdate, error) {
	rec, err := r.Load(path)
	if err != nil {
		return nil, err
	}

	from, to := opts.From, opts.To
	if to <= 0 || to > len(rec.Elements) {
		to = len(rec.Elements)
	}
	if from < 0 {
		from = 0
	}

	report := make([]ElementUpdate, 0, len(rec.Elements))
	for i, elem := range rec.Elements {
		if opts.ResetIDs {
			monitoring.Logf("Changing id from %s to %d", elem.ID, i)
			elem.ID = NumericID(i)
		}

		modified := false
		if from <= i && i < to {
			for key, value := range attrs {
				set, err := elem.IsSet(key)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				if set && !opts.Overwrite {
					continue
				}
				if err := elem.Set(key, value); err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				modified = true
			}
		}

		if modified {
			monitoring.Logf("Element with index %d and id %s updated.", i, elem.ID)
		} else {
			monitoring.Debugf("Element with index %d and id %s not updated.", i, elem.ID)
		}
		report = append(report, ElementUpdate{Index: i, ID: elem.ID, Modified: modified})
	}

	if err := r.Save(path, rec); err != nil {
		return nil, err
	}
	return report, nil
}

// MarkPlaced stamps unplaced elements in [from, to) with the current time.
func (r *Records) MarkPlaced(path string, from, to int) ([]ElementUpdate, error) {
	now := float64(r.now().UnixNano()) / float64(time.Second)
	return r.UpdateAttrs(path, map[string]any{keyPlaced: now}, UpdateOptions{From: from, To: to})
}

// Renumber gives every element its index as id, formatted as prefix%03d
// when a prefix is given.
func (r *Records) Renumber(path, prefix string) error {
	rec, err := r.Load(path)
	if err != nil {
		return err
	}
	for i, elem := range rec.Elements {
		if prefix != "" {
			elem.ID = StringID(fmt.Sprintf("%s%03d", prefix, i))
		} else {
			elem.ID = NumericID(i)
		}
	}
	return r.Save(path, rec)
}

// AverageCycleTime is the mean cycle time over elements that have one.
func AverageCycleTime(elems []*FabricationElement) (float64, error) {
	var times []float64
	for _, elem := range elems {
		if elem.CycleTime != nil && *elem.CycleTime > 0 {
			times = append(times, *elem.CycleTime)
		}
	}
	if len(times) == 0 {
		return 0, ErrNoCycleTimes
	}
	return stat.Mean(times, nil), nil
}
